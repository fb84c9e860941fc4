package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/repository"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
	repository.ItemRepository
	repository.RentalRepository
	repository.LegacyRentalRepository
	repository.MemberRepository
	repository.EventRepository
	repository.MassMailRepository
	repository.NotificationRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                     db,
		ItemRepository:         NewItemRepository(db),
		RentalRepository:       NewRentalRepository(db),
		LegacyRentalRepository: NewLegacyRentalRepository(db),
		MemberRepository:       NewMemberRepository(db),
		EventRepository:        NewEventRepository(db),
		MassMailRepository:     NewMassMailRepository(db),
		NotificationRepository: NewNotificationRepository(db),
	}
}

// DB exposes the pool for components that need their own connections,
// such as advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// consumedQuantitySQL sums the quantity of every row that holds stock for
// the item aliased as i, across both rental tables.
var consumedQuantitySQL = fmt.Sprintf(
	`COALESCE((SELECT SUM(r.quantity) FROM rental_requests r WHERE r.item_id = i.id AND r.status IN (%s)), 0) +
	 COALESCE((SELECT SUM(l.quantity) FROM legacy_rentals l WHERE l.item_id = i.id AND l.status IN (%s)), 0)`,
	quoteList(consumingRequestStatuses()),
	quoteList(consumingLegacyStatuses()),
)

func consumingRequestStatuses() []string {
	var out []string
	for _, s := range domain.RentalStatuses() {
		if s.ConsumesStock() {
			out = append(out, string(s))
		}
	}
	return out
}

func consumingLegacyStatuses() []string {
	var out []string
	for _, s := range domain.LegacyRentalStatuses() {
		if s.ConsumesStock() {
			out = append(out, string(s))
		}
	}
	return out
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

func nullInt32(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func int32Ptr(v sql.NullInt32) *int32 {
	if !v.Valid {
		return nil
	}
	out := v.Int32
	return &out
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time
	return &out
}

func toInt64s(ids []int32) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
