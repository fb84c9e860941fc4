package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"member-intranet/internal/domain"
)

type massMailRepository struct{ st *state }

func (r *massMailRepository) CreateJobWithRecipients(ctx context.Context, job *domain.MassMailJob, recipients []domain.MassMailRecipient) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	now := time.Now().UTC()
	job.ID = r.st.nextID()
	job.TotalRecipients = int32(len(recipients))
	job.SentCount = 0
	job.FailedCount = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	r.st.jobs[job.ID] = *job

	for i := range recipients {
		recipients[i].ID = r.st.nextID()
		recipients[i].JobID = job.ID
		recipients[i].Status = domain.RecipientStatusPending
		r.st.recipients[recipients[i].ID] = recipients[i]
	}
	return nil
}

func (r *massMailRepository) GetJob(ctx context.Context, id int32) (*domain.MassMailJob, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	j, ok := r.st.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (r *massMailRepository) ListJobs(ctx context.Context, limit, offset int32) ([]domain.MassMailJob, int32, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	all := make([]domain.MassMailJob, 0, len(r.st.jobs))
	for _, j := range r.st.jobs {
		all = append(all, j)
	}
	sort.Slice(all, func(i, j int) bool {
		return newestFirst(all[i].CreatedAt, all[j].CreatedAt, all[i].ID, all[j].ID)
	})

	total := int32(len(all))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *massMailRepository) ListPendingRecipients(ctx context.Context, jobID int32, limit int) ([]domain.MassMailRecipient, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []domain.MassMailRecipient
	for _, rc := range r.st.recipients {
		if rc.JobID == jobID && rc.Status == domain.RecipientStatusPending {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *massMailRepository) ClaimRecipient(ctx context.Context, jobID, recipientID int32, until, now time.Time) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	rc, ok := r.st.recipients[recipientID]
	if !ok || rc.JobID != jobID || rc.Status != domain.RecipientStatusPending {
		return false, nil
	}
	if rc.ClaimedUntil != nil && rc.ClaimedUntil.After(now) {
		return false, nil
	}
	rc.ClaimedUntil = &until
	r.st.recipients[recipientID] = rc
	return true, nil
}

func (r *massMailRepository) MarkRecipient(ctx context.Context, jobID, recipientID int32, status domain.RecipientStatus, errMsg string, at time.Time) (bool, error) {
	if !status.Final() {
		return false, fmt.Errorf("recipient status %q is not final", status)
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	rc, ok := r.st.recipients[recipientID]
	if !ok || rc.JobID != jobID || rc.Status != domain.RecipientStatusPending {
		return false, nil
	}
	job, ok := r.st.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}

	rc.Status = status
	rc.ErrorMessage = errMsg
	rc.ProcessedAt = &at
	r.st.recipients[recipientID] = rc

	if status == domain.RecipientStatusSent {
		job.SentCount++
	} else {
		job.FailedCount++
	}
	job.UpdatedAt = at
	r.st.jobs[jobID] = job
	return true, nil
}

func (r *massMailRepository) FinishBatch(ctx context.Context, jobID int32, status domain.MassMailStatus, nextRunAt *time.Time, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	job, ok := r.st.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	job.NextRunAt = nextRunAt
	job.UpdatedAt = at
	r.st.jobs[jobID] = job
	return nil
}

func (r *massMailRepository) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.MassMailJob, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []domain.MassMailJob
	for _, j := range r.st.jobs {
		if j.Status == domain.MassMailStatusPaused && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type notificationRepository struct{ st *state }

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n.ID = r.st.nextID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	r.st.notes[n.ID] = *n
	return nil
}

func (r *notificationRepository) List(ctx context.Context, userID int32, limit, offset int32) ([]domain.Notification, int32, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var all []domain.Notification
	for _, n := range r.st.notes {
		if n.UserID == userID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return newestFirst(all[i].CreatedAt, all[j].CreatedAt, all[i].ID, all[j].ID)
	})

	total := int32(len(all))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id, userID int32) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n, ok := r.st.notes[id]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	n.IsRead = true
	r.st.notes[id] = n
	return nil
}
