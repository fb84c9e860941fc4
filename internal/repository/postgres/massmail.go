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

type massMailRepository struct {
	db *sql.DB
}

func NewMassMailRepository(db *sql.DB) repository.MassMailRepository {
	return &massMailRepository{db: db}
}

const jobColumns = `id, subject, body_template, event_id, status, next_run_at, total_recipients, sent_count, failed_count, created_by, created_at, updated_at`

func scanJob(row rowScanner) (*domain.MassMailJob, error) {
	var j domain.MassMailJob
	var eventID sql.NullInt32
	var nextRunAt sql.NullTime
	err := row.Scan(&j.ID, &j.Subject, &j.BodyTemplate, &eventID, &j.Status, &nextRunAt,
		&j.TotalRecipients, &j.SentCount, &j.FailedCount, &j.CreatedBy, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.EventID = int32Ptr(eventID)
	j.NextRunAt = timePtr(nextRunAt)
	return &j, nil
}

func (r *massMailRepository) CreateJobWithRecipients(ctx context.Context, job *domain.MassMailJob, recipients []domain.MassMailRecipient) error {
	logger.EnterMethod("massMailRepository.CreateJobWithRecipients", "recipients", len(recipients))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	job.TotalRecipients = int32(len(recipients))
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `INSERT INTO mass_mail_jobs (subject, body_template, event_id, status, next_run_at, total_recipients, sent_count, failed_count, created_by, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8, $9) RETURNING id`
	logger.DatabaseCall("INSERT", "mass_mail_jobs")
	err = tx.QueryRowContext(ctx, query, job.Subject, job.BodyTemplate, nullInt32(job.EventID), job.Status, nullTime(job.NextRunAt),
		job.TotalRecipients, job.CreatedBy, now, now).Scan(&job.ID)
	if err != nil {
		logger.ExitMethodWithError("massMailRepository.CreateJobWithRecipients", err, "stage", "job")
		return err
	}

	emails := make([]string, len(recipients))
	firstNames := make([]string, len(recipients))
	lastNames := make([]string, len(recipients))
	for i, rc := range recipients {
		emails[i] = rc.Email
		firstNames[i] = rc.FirstName
		lastNames[i] = rc.LastName
	}

	// Ordinality keeps the input order so recipient ids ascend in that order.
	bulk := `INSERT INTO mass_mail_recipients (job_id, email, first_name, last_name, status)
	         SELECT $1, t.email, t.first_name, t.last_name, $5
	         FROM unnest($2::text[], $3::text[], $4::text[]) WITH ORDINALITY AS t(email, first_name, last_name, n)
	         ORDER BY t.n`
	logger.DatabaseCall("INSERT", "mass_mail_recipients", "jobID", job.ID, "count", len(recipients))
	res, err := tx.ExecContext(ctx, bulk, job.ID, pq.Array(emails), pq.Array(firstNames), pq.Array(lastNames), domain.RecipientStatusPending)
	if err != nil {
		logger.ExitMethodWithError("massMailRepository.CreateJobWithRecipients", err, "stage", "recipients", "jobID", job.ID)
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted != int64(len(recipients)) {
		return fmt.Errorf("inserted %d of %d recipients", inserted, len(recipients))
	}

	if err := tx.Commit(); err != nil {
		logger.ExitMethodWithError("massMailRepository.CreateJobWithRecipients", err, "stage", "commit")
		return err
	}
	for i := range recipients {
		recipients[i].JobID = job.ID
		recipients[i].Status = domain.RecipientStatusPending
	}
	logger.ExitMethod("massMailRepository.CreateJobWithRecipients", "jobID", job.ID)
	return nil
}

func (r *massMailRepository) GetJob(ctx context.Context, id int32) (*domain.MassMailJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM mass_mail_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *massMailRepository) ListJobs(ctx context.Context, limit, offset int32) ([]domain.MassMailJob, int32, error) {
	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM mass_mail_jobs`).Scan(&count); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM mass_mail_jobs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []domain.MassMailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, count, rows.Err()
}

func (r *massMailRepository) ListPendingRecipients(ctx context.Context, jobID int32, limit int) ([]domain.MassMailRecipient, error) {
	query := `SELECT id, job_id, email, first_name, last_name, status
	          FROM mass_mail_recipients WHERE job_id = $1 AND status = $2 ORDER BY id LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, jobID, domain.RecipientStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MassMailRecipient
	for rows.Next() {
		var rc domain.MassMailRecipient
		if err := rows.Scan(&rc.ID, &rc.JobID, &rc.Email, &rc.FirstName, &rc.LastName, &rc.Status); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *massMailRepository) ClaimRecipient(ctx context.Context, jobID, recipientID int32, until, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mass_mail_recipients SET claimed_until = $1
		 WHERE id = $2 AND job_id = $3 AND status = $4 AND (claimed_until IS NULL OR claimed_until <= $5)`,
		until, recipientID, jobID, domain.RecipientStatusPending, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *massMailRepository) MarkRecipient(ctx context.Context, jobID, recipientID int32, status domain.RecipientStatus, errMsg string, at time.Time) (bool, error) {
	var counter string
	switch status {
	case domain.RecipientStatusSent:
		counter = "sent_count"
	case domain.RecipientStatusFailed:
		counter = "failed_count"
	default:
		return false, fmt.Errorf("recipient status %q is not final", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE mass_mail_recipients SET status = $1, error_message = $2, processed_at = $3
		 WHERE id = $4 AND job_id = $5 AND status = $6`,
		status, errMsg, at, recipientID, jobID, domain.RecipientStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE mass_mail_jobs SET `+counter+` = `+counter+` + 1, updated_at = $1 WHERE id = $2`, at, jobID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *massMailRepository) FinishBatch(ctx context.Context, jobID int32, status domain.MassMailStatus, nextRunAt *time.Time, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mass_mail_jobs SET status = $1, next_run_at = $2, updated_at = $3 WHERE id = $4`,
		status, nullTime(nextRunAt), at, jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *massMailRepository) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.MassMailJob, error) {
	query := `SELECT ` + jobColumns + ` FROM mass_mail_jobs
	          WHERE status = $1 AND next_run_at <= $2 ORDER BY next_run_at, id LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, domain.MassMailStatusPaused, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.MassMailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
