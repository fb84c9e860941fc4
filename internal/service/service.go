package service

import (
	"context"
	"io"
	"time"

	"member-intranet/internal/domain"
)

// SubmitRentalInput carries a member's rental request as entered.
// Dates use domain.DateLayout.
type SubmitRentalInput struct {
	ItemID    int32
	Quantity  int32
	StartDate string
	EndDate   string
	Purpose   string
}

type RentalService interface {
	GetItem(ctx context.Context, itemID int32) (*domain.InventoryItem, error)
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	SubmitRequest(ctx context.Context, actor domain.ActorContext, in SubmitRentalInput) (*domain.RentalRequest, error)
	Approve(ctx context.Context, actor domain.ActorContext, requestID int32) (*domain.RentalRequest, error)
	Reject(ctx context.Context, actor domain.ActorContext, requestID int32, reason string) (*domain.RentalRequest, error)
	// ReportReturn also reports whether the return is ahead of the end date.
	ReportReturn(ctx context.Context, actor domain.ActorContext, requestID int32) (*domain.RentalRequest, bool, error)
	ReportLegacyReturn(ctx context.Context, actor domain.ActorContext, rentalID int32) (*domain.LegacyRental, bool, error)
	ConfirmReturn(ctx context.Context, actor domain.ActorContext, requestID int32) (*domain.RentalRequest, error)
	ConfirmLegacyReturn(ctx context.Context, actor domain.ActorContext, rentalID int32) (*domain.LegacyRental, error)
	ListForItem(ctx context.Context, itemID int32, phases ...domain.RentalPhase) ([]domain.RentalView, error)
	ListForUser(ctx context.Context, userID int32, phases ...domain.RentalPhase) ([]domain.RentalView, error)
	ExportCSV(ctx context.Context, actor domain.ActorContext, w io.Writer, phases ...domain.RentalPhase) error
	// SendOverdueReminders emails every borrower whose rental is past its end date.
	SendOverdueReminders(ctx context.Context, now time.Time) (int, error)
}

// SendMassMailInput is a mass mail as composed by a board member.
type SendMassMailInput struct {
	Subject      string
	BodyTemplate string
	EventID      *int32
	Recipients   []domain.MassMailRecipient
}

// MassMailResult reports what a send or resume call did.
// Job is nil when the mail went out synchronously without a job row.
type MassMailResult struct {
	Job    *domain.MassMailJob
	Sent   int
	Failed int
}

type MassMailService interface {
	Send(ctx context.Context, actor domain.ActorContext, in SendMassMailInput) (*MassMailResult, error)
	Resume(ctx context.Context, actor domain.ActorContext, jobID int32) (*MassMailResult, error)
	// ResumeDue processes one batch of every paused job whose next run is due.
	ResumeDue(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, actor domain.ActorContext, jobID int32) (*domain.MassMailJob, error)
	List(ctx context.Context, actor domain.ActorContext, page, pageSize int32) ([]domain.MassMailJob, int32, error)
}

type NotificationService interface {
	GetNotifications(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, userID, notificationID int32) error
}

type EmailService interface {
	// Board notifications
	SendRentalRequestNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, rt *domain.RentalRequest) error
	SendReturnReportedNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, rentalID int32, early bool) error

	// Borrower notifications
	SendRentalApprovalNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, rt *domain.RentalRequest) error
	SendRentalRejectionNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, reason string) error
	SendReturnConfirmedNotification(ctx context.Context, borrower domain.Member, itemName string) error
	SendOverdueReminder(ctx context.Context, view domain.RentalView) error
}
