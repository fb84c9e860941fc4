package postgres_test

import (
	"context"
	"testing"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/repository"
	"member-intranet/internal/repository/postgres"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rentalCols = []string{"id", "item_id", "user_id", "quantity", "start_date", "end_date", "purpose", "status",
	"decided_by", "decided_at", "rejection_reason", "returned_at", "created_at", "updated_at"}

func TestRentalRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		rental := &domain.RentalRequest{
			ItemID:    2,
			UserID:    3,
			Quantity:  1,
			StartDate: start,
			EndDate:   start.AddDate(0, 0, 3),
			Purpose:   "Summer camp",
			Status:    domain.RentalStatusPending,
		}

		mock.ExpectQuery("INSERT INTO rental_requests").
			WithArgs(rental.ItemID, rental.UserID, rental.Quantity, rental.StartDate, rental.EndDate, rental.Purpose, "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		err := repo.Create(ctx, rental)
		assert.NoError(t, err)
		assert.Equal(t, int32(11), rental.ID)
		assert.False(t, rental.CreatedAt.IsZero())
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM rental_requests WHERE id").
			WithArgs(int32(4)).
			WillReturnRows(sqlmock.NewRows(rentalCols).
				AddRow(4, 2, 3, 1, now, now, "Workshop", "approved", 9, now, "", nil, now, now))

		rt, err := repo.GetByID(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusApproved, rt.Status)
		require.NotNil(t, rt.DecidedBy)
		assert.Equal(t, int32(9), *rt.DecidedBy)
		assert.Nil(t, rt.ReturnedAt)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM rental_requests WHERE id").
			WithArgs(int32(5)).
			WillReturnRows(sqlmock.NewRows(rentalCols))

		_, err := repo.GetByID(ctx, 5)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_ApproveWithinStock(t *testing.T) {
	ctx := context.Background()
	decidedAt := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := postgres.NewRentalRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT item_id, quantity FROM rental_requests").
			WithArgs(int32(10), "pending").
			WillReturnRows(sqlmock.NewRows([]string{"item_id", "quantity"}).AddRow(2, 3))
		mock.ExpectQuery("SELECT quantity FROM inventory_items WHERE id = (.+) FOR UPDATE").
			WithArgs(int32(2)).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(5))
		mock.ExpectQuery("FROM inventory_items i WHERE i.id").
			WithArgs(int32(2)).
			WillReturnRows(sqlmock.NewRows([]string{"consumed"}).AddRow(2))
		mock.ExpectQuery("UPDATE rental_requests SET status").
			WithArgs("approved", int32(9), decidedAt, int32(10), "pending").
			WillReturnRows(sqlmock.NewRows(rentalCols).
				AddRow(10, 2, 3, 3, decidedAt, decidedAt, "Fair", "approved", 9, decidedAt, "", nil, decidedAt, decidedAt))
		mock.ExpectCommit()

		rt, err := repo.ApproveWithinStock(ctx, 10, 9, decidedAt)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusApproved, rt.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientStock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := postgres.NewRentalRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT item_id, quantity FROM rental_requests").
			WithArgs(int32(10), "pending").
			WillReturnRows(sqlmock.NewRows([]string{"item_id", "quantity"}).AddRow(2, 3))
		mock.ExpectQuery("SELECT quantity FROM inventory_items WHERE id = (.+) FOR UPDATE").
			WithArgs(int32(2)).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(5))
		mock.ExpectQuery("FROM inventory_items i WHERE i.id").
			WithArgs(int32(2)).
			WillReturnRows(sqlmock.NewRows([]string{"consumed"}).AddRow(3))
		mock.ExpectRollback()

		_, err = repo.ApproveWithinStock(ctx, 10, 9, decidedAt)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotPending", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := postgres.NewRentalRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT item_id, quantity FROM rental_requests").
			WithArgs(int32(10), "pending").
			WillReturnRows(sqlmock.NewRows([]string{"item_id", "quantity"}))
		mock.ExpectRollback()

		_, err = repo.ApproveWithinStock(ctx, 10, 9, decidedAt)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRentalRepository_Transition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery("UPDATE rental_requests SET status").
			WithArgs("pending_return", nil, nil, "", nil, sqlmock.AnyArg(), int32(4), "approved").
			WillReturnRows(sqlmock.NewRows(rentalCols).
				AddRow(4, 2, 3, 1, now, now, "Workshop", "pending_return", 9, now, "", nil, now, now))

		rt, err := repo.Transition(ctx, 4, domain.RentalStatusApproved, domain.RentalStatusPendingReturn, domain.RentalChange{})
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusPendingReturn, rt.Status)
	})

	t.Run("StaleState", func(t *testing.T) {
		mock.ExpectQuery("UPDATE rental_requests SET status").
			WillReturnRows(sqlmock.NewRows(rentalCols))

		_, err := repo.Transition(ctx, 4, domain.RentalStatusApproved, domain.RentalStatusPendingReturn, domain.RentalChange{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("IllegalTransition", func(t *testing.T) {
		_, err := repo.Transition(ctx, 4, domain.RentalStatusPending, domain.RentalStatusReturned, domain.RentalChange{})
		assert.Error(t, err)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	now := time.Now()

	mock.ExpectQuery(`FROM rental_requests WHERE 1=1 AND item_id = \$1 AND status = ANY\(\$2\) ORDER BY created_at DESC`).
		WithArgs(int32(2), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(rentalCols).
			AddRow(5, 2, 3, 1, now, now, "A", "approved", nil, nil, "", nil, now, now).
			AddRow(4, 2, 6, 2, now, now, "B", "pending_return", nil, nil, "", nil, now, now))

	rentals, err := repo.List(context.Background(), repository.RentalFilter{
		ItemID:   2,
		Statuses: []domain.RentalStatus{domain.RentalStatusApproved, domain.RentalStatusPendingReturn},
	})
	require.NoError(t, err)
	assert.Len(t, rentals, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLegacyRentalRepository_Transition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := postgres.NewLegacyRentalRepository(db)
	now := time.Now()

	mock.ExpectQuery("UPDATE legacy_rentals SET status").
		WithArgs("returned", now, int32(8), "pending_return").
		WillReturnRows(sqlmock.NewRows([]string{"id", "item_id", "user_id", "quantity", "start_date", "end_date", "status", "returned_at", "created_at"}).
			AddRow(8, 2, 3, 1, now, now, "returned", now, now))

	lr, err := repo.Transition(context.Background(), 8, domain.LegacyStatusPendingReturn, domain.LegacyStatusReturned, &now)
	require.NoError(t, err)
	assert.Equal(t, domain.LegacyStatusReturned, lr.Status)
	require.NotNil(t, lr.ReturnedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
