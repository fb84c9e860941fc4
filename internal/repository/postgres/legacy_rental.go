package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/repository"

	"github.com/lib/pq"
)

type legacyRentalRepository struct {
	db *sql.DB
}

func NewLegacyRentalRepository(db *sql.DB) repository.LegacyRentalRepository {
	return &legacyRentalRepository{db: db}
}

const legacyColumns = `id, item_id, user_id, quantity, start_date, end_date, status, returned_at, created_at`

func scanLegacy(row rowScanner) (*domain.LegacyRental, error) {
	var lr domain.LegacyRental
	var returnedAt sql.NullTime
	if err := row.Scan(&lr.ID, &lr.ItemID, &lr.UserID, &lr.Quantity, &lr.StartDate, &lr.EndDate, &lr.Status, &returnedAt, &lr.CreatedAt); err != nil {
		return nil, err
	}
	lr.ReturnedAt = timePtr(returnedAt)
	return &lr, nil
}

func (r *legacyRentalRepository) GetByID(ctx context.Context, id int32) (*domain.LegacyRental, error) {
	lr, err := scanLegacy(r.db.QueryRowContext(ctx, `SELECT `+legacyColumns+` FROM legacy_rentals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return lr, err
}

func (r *legacyRentalRepository) Transition(ctx context.Context, id int32, from, to domain.LegacyRentalStatus, returnedAt *time.Time) (*domain.LegacyRental, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("illegal legacy rental transition %s -> %s", from, to)
	}
	query := `UPDATE legacy_rentals SET status = $1, returned_at = COALESCE($2, returned_at)
	          WHERE id = $3 AND status = $4 RETURNING ` + legacyColumns
	lr, err := scanLegacy(r.db.QueryRowContext(ctx, query, to, nullTime(returnedAt), id, from))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return lr, err
}

func (r *legacyRentalRepository) List(ctx context.Context, f repository.LegacyRentalFilter) ([]domain.LegacyRental, error) {
	query := `SELECT ` + legacyColumns + ` FROM legacy_rentals WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if f.ItemID != 0 {
		query += fmt.Sprintf(" AND item_id = $%d", argIdx)
		args = append(args, f.ItemID)
		argIdx++
	}
	if f.UserID != 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, f.UserID)
		argIdx++
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, pq.Array(statuses))
		argIdx++
	}
	if f.EndBefore != nil {
		query += fmt.Sprintf(" AND end_date < $%d", argIdx)
		args = append(args, *f.EndBefore)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rentals []domain.LegacyRental
	for rows.Next() {
		lr, err := scanLegacy(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, *lr)
	}
	return rentals, rows.Err()
}
