package postgres

import (
	"context"
	"database/sql"
	"errors"

	"member-intranet/internal/domain"
	"member-intranet/internal/repository"
)

type eventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) GetByID(ctx context.Context, id int32) (*domain.Event, error) {
	ev := &domain.Event{}
	query := `SELECT id, title, start_time, location, registration_link FROM events WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&ev.ID, &ev.Title, &ev.StartTime, &ev.Location, &ev.RegistrationLink)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}
