package domain

import (
	"strings"
	"time"
)

type MassMailStatus string

const (
	MassMailStatusPaused    MassMailStatus = "paused"
	MassMailStatusCompleted MassMailStatus = "completed"
)

type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// Final reports whether the recipient has been processed.
func (s RecipientStatus) Final() bool {
	return s == RecipientStatusSent || s == RecipientStatusFailed
}

// MassMailJob is a deferred mass mail processed in bounded batches.
// SentCount + FailedCount + pending recipients always equals TotalRecipients.
type MassMailJob struct {
	ID              int32          `json:"id"`
	Subject         string         `json:"subject"`
	BodyTemplate    string         `json:"body_template"`
	EventID         *int32         `json:"event_id,omitempty"`
	Status          MassMailStatus `json:"status"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	TotalRecipients int32          `json:"total_recipients"`
	SentCount       int32          `json:"sent_count"`
	FailedCount     int32          `json:"failed_count"`
	CreatedBy       int32          `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (j *MassMailJob) PendingCount() int32 {
	return j.TotalRecipients - j.SentCount - j.FailedCount
}

type MassMailRecipient struct {
	ID           int32           `json:"id"`
	JobID        int32           `json:"job_id"`
	Email        string          `json:"email"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Status       RecipientStatus `json:"status"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ClaimedUntil *time.Time      `json:"-"`
}

func (r MassMailRecipient) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// NormalizedEmail is the key used to drop duplicate recipients.
func (r MassMailRecipient) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}
