package postgres

import (
	"context"
	"database/sql"
	"errors"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/repository"

	"github.com/lib/pq"
)

type memberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) repository.MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) GetByID(ctx context.Context, id int32) (*domain.Member, error) {
	m := &domain.Member{}
	query := `SELECT id, email, first_name, last_name FROM members WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Email, &m.FirstName, &m.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetByIDs loads every listed member in one round trip. Unknown ids are
// simply absent from the result.
func (r *memberRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]domain.Member, error) {
	out := make(map[int32]domain.Member, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	logger.DatabaseCall("SELECT", "members", "count", len(ids))
	rows, err := r.db.QueryContext(ctx, `SELECT id, email, first_name, last_name FROM members WHERE id = ANY($1)`, pq.Array(toInt64s(ids)))
	if err != nil {
		logger.DatabaseResult("SELECT", 0, err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.Email, &m.FirstName, &m.LastName); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	logger.DatabaseResult("SELECT", int64(len(out)), rows.Err())
	return out, rows.Err()
}
