package repository

import (
	"context"
	"time"

	"member-intranet/internal/domain"
)

// RentalFilter narrows rental listings. Zero values do not filter.
type RentalFilter struct {
	ItemID    int32
	UserID    int32
	Statuses  []domain.RentalStatus
	EndBefore *time.Time
}

type LegacyRentalFilter struct {
	ItemID    int32
	UserID    int32
	Statuses  []domain.LegacyRentalStatus
	EndBefore *time.Time
}

type ItemRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.InventoryItem, error)
	GetByIDs(ctx context.Context, ids []int32) (map[int32]domain.InventoryItem, error)
	List(ctx context.Context) ([]domain.InventoryItem, error)
}

type RentalRepository interface {
	Create(ctx context.Context, rental *domain.RentalRequest) error
	GetByID(ctx context.Context, id int32) (*domain.RentalRequest, error)
	// ApproveWithinStock serializes on the item row, recomputes availability and
	// moves the request from pending to approved. It returns domain.ErrNotFound
	// when no pending request has that id and domain.ErrInsufficientStock when
	// the quantity no longer fits.
	ApproveWithinStock(ctx context.Context, id, decidedBy int32, decidedAt time.Time) (*domain.RentalRequest, error)
	// Transition changes status only while the row is still in from.
	// It returns domain.ErrNotFound when no such row exists.
	Transition(ctx context.Context, id int32, from, to domain.RentalStatus, change domain.RentalChange) (*domain.RentalRequest, error)
	List(ctx context.Context, filter RentalFilter) ([]domain.RentalRequest, error)
}

type LegacyRentalRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.LegacyRental, error)
	Transition(ctx context.Context, id int32, from, to domain.LegacyRentalStatus, returnedAt *time.Time) (*domain.LegacyRental, error)
	List(ctx context.Context, filter LegacyRentalFilter) ([]domain.LegacyRental, error)
}

type MemberRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Member, error)
	GetByIDs(ctx context.Context, ids []int32) (map[int32]domain.Member, error)
}

type EventRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Event, error)
}

type MassMailRepository interface {
	// CreateJobWithRecipients inserts the job and all recipients in one
	// transaction and fills in the job id.
	CreateJobWithRecipients(ctx context.Context, job *domain.MassMailJob, recipients []domain.MassMailRecipient) error
	GetJob(ctx context.Context, id int32) (*domain.MassMailJob, error)
	ListJobs(ctx context.Context, limit, offset int32) ([]domain.MassMailJob, int32, error)
	// ListPendingRecipients returns up to limit pending recipients, oldest id first.
	ListPendingRecipients(ctx context.Context, jobID int32, limit int) ([]domain.MassMailRecipient, error)
	// ClaimRecipient leases a pending recipient to the caller until the given
	// time. It reports false when the row is no longer pending or another
	// worker holds an unexpired lease on it.
	ClaimRecipient(ctx context.Context, jobID, recipientID int32, until, now time.Time) (bool, error)
	// MarkRecipient moves a pending recipient to sent or failed and bumps the
	// matching job counter in the same transaction. It reports false when the
	// recipient was no longer pending.
	MarkRecipient(ctx context.Context, jobID, recipientID int32, status domain.RecipientStatus, errMsg string, at time.Time) (bool, error)
	FinishBatch(ctx context.Context, jobID int32, status domain.MassMailStatus, nextRunAt *time.Time, at time.Time) error
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.MassMailJob, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, note *domain.Notification) error
	List(ctx context.Context, userID int32, limit, offset int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, id, userID int32) error
}
