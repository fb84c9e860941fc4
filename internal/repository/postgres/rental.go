package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/repository"

	"github.com/lib/pq"
)

type rentalRepository struct {
	db *sql.DB
}

func NewRentalRepository(db *sql.DB) repository.RentalRepository {
	return &rentalRepository{db: db}
}

const rentalColumns = `id, item_id, user_id, quantity, start_date, end_date, purpose, status, decided_by, decided_at, rejection_reason, returned_at, created_at, updated_at`

func scanRental(row rowScanner) (*domain.RentalRequest, error) {
	var rt domain.RentalRequest
	var decidedBy sql.NullInt32
	var decidedAt, returnedAt sql.NullTime
	err := row.Scan(&rt.ID, &rt.ItemID, &rt.UserID, &rt.Quantity, &rt.StartDate, &rt.EndDate, &rt.Purpose, &rt.Status,
		&decidedBy, &decidedAt, &rt.RejectionReason, &returnedAt, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rt.DecidedBy = int32Ptr(decidedBy)
	rt.DecidedAt = timePtr(decidedAt)
	rt.ReturnedAt = timePtr(returnedAt)
	return &rt, nil
}

func (r *rentalRepository) Create(ctx context.Context, rt *domain.RentalRequest) error {
	logger.EnterMethod("rentalRepository.Create", "itemID", rt.ItemID, "userID", rt.UserID, "quantity", rt.Quantity)

	now := time.Now().UTC()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = now
	}
	rt.UpdatedAt = rt.CreatedAt

	query := `INSERT INTO rental_requests (item_id, user_id, quantity, start_date, end_date, purpose, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	logger.DatabaseCall("INSERT", "rental_requests", "itemID", rt.ItemID)
	err := r.db.QueryRowContext(ctx, query, rt.ItemID, rt.UserID, rt.Quantity, rt.StartDate, rt.EndDate, rt.Purpose, rt.Status, rt.CreatedAt, rt.UpdatedAt).Scan(&rt.ID)
	logger.DatabaseResult("INSERT", 1, err, "rentalID", rt.ID)

	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err, "itemID", rt.ItemID)
		return err
	}
	logger.ExitMethod("rentalRepository.Create", "rentalID", rt.ID)
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.RentalRequest, error) {
	rt, err := scanRental(r.db.QueryRowContext(ctx, `SELECT `+rentalColumns+` FROM rental_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rt, err
}

func (r *rentalRepository) ApproveWithinStock(ctx context.Context, id, decidedBy int32, decidedAt time.Time) (*domain.RentalRequest, error) {
	logger.EnterMethod("rentalRepository.ApproveWithinStock", "rentalID", id, "decidedBy", decidedBy)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var itemID, quantity int32
	err = tx.QueryRowContext(ctx, `SELECT item_id, quantity FROM rental_requests WHERE id = $1 AND status = $2`,
		id, domain.RentalStatusPending).Scan(&itemID, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// The item row lock serializes every approval that draws on this item.
	var total int32
	logger.DatabaseCall("SELECT FOR UPDATE", "inventory_items", "itemID", itemID)
	if err := tx.QueryRowContext(ctx, `SELECT quantity FROM inventory_items WHERE id = $1 FOR UPDATE`, itemID).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var consumed int32
	if err := tx.QueryRowContext(ctx, `SELECT `+consumedQuantitySQL+` FROM inventory_items i WHERE i.id = $1`, itemID).Scan(&consumed); err != nil {
		return nil, err
	}
	if quantity > domain.Available(total, consumed) {
		logger.Info("Approval rejected for insufficient stock", "rentalID", id, "itemID", itemID, "requested", quantity, "available", domain.Available(total, consumed))
		return nil, domain.ErrInsufficientStock
	}

	query := `UPDATE rental_requests SET status = $1, decided_by = $2, decided_at = $3, updated_at = $3
	          WHERE id = $4 AND status = $5 RETURNING ` + rentalColumns
	rt, err := scanRental(tx.QueryRowContext(ctx, query, domain.RentalStatusApproved, decidedBy, decidedAt, id, domain.RentalStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		logger.ExitMethodWithError("rentalRepository.ApproveWithinStock", err, "rentalID", id)
		return nil, err
	}
	logger.ExitMethod("rentalRepository.ApproveWithinStock", "rentalID", id, "itemID", itemID)
	return rt, nil
}

func (r *rentalRepository) Transition(ctx context.Context, id int32, from, to domain.RentalStatus, change domain.RentalChange) (*domain.RentalRequest, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("illegal rental transition %s -> %s", from, to)
	}

	query := `UPDATE rental_requests SET status = $1,
	              decided_by = COALESCE($2, decided_by),
	              decided_at = COALESCE($3, decided_at),
	              rejection_reason = CASE WHEN $4 = '' THEN rejection_reason ELSE $4 END,
	              returned_at = COALESCE($5, returned_at),
	              updated_at = $6
	          WHERE id = $7 AND status = $8
	          RETURNING ` + rentalColumns
	logger.DatabaseCall("UPDATE", "rental_requests", "rentalID", id, "from", from, "to", to)
	rt, err := scanRental(r.db.QueryRowContext(ctx, query, to, nullInt32(change.DecidedBy), nullTime(change.DecidedAt),
		change.RejectionReason, nullTime(change.ReturnedAt), time.Now().UTC(), id, from))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	logger.DatabaseResult("UPDATE", 1, err, "rentalID", id)
	return rt, err
}

func (r *rentalRepository) List(ctx context.Context, f repository.RentalFilter) ([]domain.RentalRequest, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_requests WHERE 1=1`
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ItemID != 0 {
		query += " AND item_id = " + next(f.ItemID)
	}
	if f.UserID != 0 {
		query += " AND user_id = " + next(f.UserID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		query += " AND status = ANY(" + next(pq.Array(statuses)) + ")"
	}
	if f.EndBefore != nil {
		query += " AND end_date < " + next(*f.EndBefore)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rentals []domain.RentalRequest
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, *rt)
	}
	return rentals, rows.Err()
}
