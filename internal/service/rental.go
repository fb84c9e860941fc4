package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/repository"
)

type rentalService struct {
	itemRepo   repository.ItemRepository
	rentalRepo repository.RentalRepository
	legacyRepo repository.LegacyRentalRepository
	memberRepo repository.MemberRepository
	noteRepo   repository.NotificationRepository
	emailSvc   EmailService
	now        func() time.Time
}

func NewRentalService(
	itemRepo repository.ItemRepository,
	rentalRepo repository.RentalRepository,
	legacyRepo repository.LegacyRentalRepository,
	memberRepo repository.MemberRepository,
	noteRepo repository.NotificationRepository,
	emailSvc EmailService,
) RentalService {
	return &rentalService{
		itemRepo:   itemRepo,
		rentalRepo: rentalRepo,
		legacyRepo: legacyRepo,
		memberRepo: memberRepo,
		noteRepo:   noteRepo,
		emailSvc:   emailSvc,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *rentalService) GetItem(ctx context.Context, itemID int32) (*domain.InventoryItem, error) {
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		return nil, notFound(err, "item", itemID)
	}
	return item, nil
}

func (s *rentalService) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.itemRepo.List(ctx)
}

func (s *rentalService) SubmitRequest(ctx context.Context, actor domain.ActorContext, in SubmitRentalInput) (*domain.RentalRequest, error) {
	logger.EnterMethod("rentalService.SubmitRequest", "userID", actor.UserID, "itemID", in.ItemID, "quantity", in.Quantity)

	if err := actor.RequireMember("submit rental request"); err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be greater than zero")
	}
	start, err := time.Parse(domain.DateLayout, in.StartDate)
	if err != nil {
		return nil, &domain.ValidationError{Field: "start_date", Message: "must be a date in YYYY-MM-DD format", Err: err}
	}
	end, err := time.Parse(domain.DateLayout, in.EndDate)
	if err != nil {
		return nil, &domain.ValidationError{Field: "end_date", Message: "must be a date in YYYY-MM-DD format", Err: err}
	}
	if end.Before(start) {
		return nil, domain.NewValidationError("end_date", "must not be before start date")
	}
	purpose := strings.TrimSpace(in.Purpose)
	if purpose == "" {
		return nil, domain.NewValidationError("purpose", "is required")
	}

	item, err := s.itemRepo.GetByID(ctx, in.ItemID)
	if err != nil {
		logger.ExitMethodWithError("rentalService.SubmitRequest", err, "itemID", in.ItemID)
		return nil, notFound(err, "item", in.ItemID)
	}
	// Pending requests do not hold stock; this only rejects requests that
	// cannot fit right now. Approval checks again under the item lock.
	if in.Quantity > item.AvailableQuantity {
		return nil, &domain.ValidationError{
			Field:   "quantity",
			Message: fmt.Sprintf("only %d %s available", item.AvailableQuantity, item.Unit),
			Err:     domain.ErrInsufficientStock,
		}
	}

	rt := &domain.RentalRequest{
		ItemID:    in.ItemID,
		UserID:    actor.UserID,
		Quantity:  in.Quantity,
		StartDate: start,
		EndDate:   end,
		Purpose:   purpose,
		Status:    domain.RentalStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.rentalRepo.Create(ctx, rt); err != nil {
		logger.ExitMethodWithError("rentalService.SubmitRequest", err, "itemID", in.ItemID)
		return nil, err
	}

	if borrower, ok := s.lookupMember(ctx, actor.UserID); ok {
		if err := s.emailSvc.SendRentalRequestNotification(ctx, borrower, *item, rt); err != nil {
			logger.Error("Failed to notify board of rental request", "rentalID", rt.ID, "error", err)
		}
	}

	logger.ExitMethod("rentalService.SubmitRequest", "rentalID", rt.ID)
	return rt, nil
}

func (s *rentalService) Approve(ctx context.Context, actor domain.ActorContext, requestID int32) (*domain.RentalRequest, error) {
	logger.EnterMethod("rentalService.Approve", "boardID", actor.UserID, "rentalID", requestID)

	if err := actor.RequireBoard("approve rental request"); err != nil {
		return nil, err
	}

	rt, err := s.rentalRepo.ApproveWithinStock(ctx, requestID, actor.UserID, s.now())
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		logger.Info("Rental approval refused, insufficient stock", "rentalID", requestID)
		return nil, &domain.ValidationError{Field: "quantity", Message: "insufficient stock to approve this request", Err: err}
	case err != nil:
		logger.ExitMethodWithError("rentalService.Approve", err, "rentalID", requestID)
		return nil, notFound(err, "pending rental request", requestID)
	}

	logger.Info("Rental request approved", "rentalID", rt.ID, "itemID", rt.ItemID, "quantity", rt.Quantity)
	s.notifyBorrower(ctx, rt.UserID, rt.ItemID, "Rental Request Approved", "RENTAL_APPROVED", rt.ID,
		func(borrower domain.Member, item domain.InventoryItem) error {
			return s.emailSvc.SendRentalApprovalNotification(ctx, borrower, item, rt)
		})

	logger.ExitMethod("rentalService.Approve", "rentalID", rt.ID)
	return rt, nil
}

func (s *rentalService) Reject(ctx context.Context, actor domain.ActorContext, requestID int32, reason string) (*domain.RentalRequest, error) {
	if err := actor.RequireBoard("reject rental request"); err != nil {
		return nil, err
	}

	now := s.now()
	decidedBy := actor.UserID
	rt, err := s.rentalRepo.Transition(ctx, requestID, domain.RentalStatusPending, domain.RentalStatusRejected, domain.RentalChange{
		DecidedBy:       &decidedBy,
		DecidedAt:       &now,
		RejectionReason: strings.TrimSpace(reason),
	})
	if err != nil {
		return nil, notFound(err, "pending rental request", requestID)
	}

	logger.Info("Rental request rejected", "rentalID", rt.ID)
	s.notifyBorrower(ctx, rt.UserID, rt.ItemID, "Rental Request Rejected", "RENTAL_REJECTED", rt.ID,
		func(borrower domain.Member, item domain.InventoryItem) error {
			return s.emailSvc.SendRentalRejectionNotification(ctx, borrower, item, rt.RejectionReason)
		})
	return rt, nil
}

func (s *rentalService) ReportReturn(ctx context.Context, actor domain.ActorContext, requestID int32) (*domain.RentalRequest, bool, error) {
	logger.EnterMethod("rentalService.ReportReturn", "userID", actor.UserID, "rentalID", requestID)

	if err := actor.RequireMember("report return"); err != nil {
		return nil, false, err
	}
	current, err := s.rentalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, false, notFound(err, "rental request", requestID)
	}
	if current.UserID != actor.UserID {
		return nil, false, &domain.PermissionError{Action: "report return", Reason: "rental belongs to another member"}
	}
	if current.Status != domain.RentalStatusApproved {
		return nil, false, &domain.PermissionError{Action: "report return", Reason: fmt.Sprintf("rental is %s", current.Status)}
	}

	rt, err := s.rentalRepo.Transition(ctx, requestID, domain.RentalStatusApproved, domain.RentalStatusPendingReturn, domain.RentalChange{})
	if errors.Is(err, domain.ErrNotFound) {
		// Changed underneath us after the read above.
		return nil, false, &domain.PermissionError{Action: "report return", Reason: "rental is no longer active"}
	}
	if err != nil {
		logger.ExitMethodWithError("rentalService.ReportReturn", err, "rentalID", requestID)
		return nil, false, err
	}

	early := domain.IsEarlyReturn(rt.EndDate, s.now())
	s.notifyBoardOfReturn(ctx, rt.UserID, rt.ItemID, rt.ID, early)

	logger.ExitMethod("rentalService.ReportReturn", "rentalID", rt.ID, "early", early)
	return rt, early, nil
}

func (s *rentalService) ReportLegacyReturn(ctx context.Context, actor domain.ActorContext, rentalID int32) (*domain.LegacyRental, bool, error) {
	if err := actor.RequireMember("report return"); err != nil {
		return nil, false, err
	}
	current, err := s.legacyRepo.GetByID(ctx, rentalID)
	if err != nil {
		return nil, false, notFound(err, "rental", rentalID)
	}
	if current.UserID != actor.UserID {
		return nil, false, &domain.PermissionError{Action: "report return", Reason: "rental belongs to another member"}
	}
	if current.Status != domain.LegacyStatusActive {
		return nil, false, &domain.PermissionError{Action: "report return", Reason: fmt.Sprintf("rental is %s", current.Status)}
	}

	lr, err := s.legacyRepo.Transition(ctx, rentalID, domain.LegacyStatusActive, domain.LegacyStatusPendingReturn, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, &domain.PermissionError{Action: "report return", Reason: "rental is no longer active"}
	}
	if err != nil {
		return nil, false, err
	}

	early := domain.IsEarlyReturn(lr.EndDate, s.now())
	s.notifyBoardOfReturn(ctx, lr.UserID, lr.ItemID, lr.ID, early)
	return lr, early, nil
}

func (s *rentalService) ConfirmReturn(ctx context.Context, actor domain.ActorContext, requestID int32) (*domain.RentalRequest, error) {
	if err := actor.RequireBoard("confirm return"); err != nil {
		return nil, err
	}

	now := s.now()
	rt, err := s.rentalRepo.Transition(ctx, requestID, domain.RentalStatusPendingReturn, domain.RentalStatusReturned, domain.RentalChange{ReturnedAt: &now})
	if err != nil {
		return nil, notFound(err, "rental awaiting return confirmation", requestID)
	}

	logger.Info("Rental return confirmed", "rentalID", rt.ID, "itemID", rt.ItemID, "quantity", rt.Quantity)
	s.notifyBorrower(ctx, rt.UserID, rt.ItemID, "Return Confirmed", "RENTAL_RETURNED", rt.ID,
		func(borrower domain.Member, item domain.InventoryItem) error {
			return s.emailSvc.SendReturnConfirmedNotification(ctx, borrower, item.Name)
		})
	return rt, nil
}

func (s *rentalService) ConfirmLegacyReturn(ctx context.Context, actor domain.ActorContext, rentalID int32) (*domain.LegacyRental, error) {
	if err := actor.RequireBoard("confirm return"); err != nil {
		return nil, err
	}

	now := s.now()
	lr, err := s.legacyRepo.Transition(ctx, rentalID, domain.LegacyStatusPendingReturn, domain.LegacyStatusReturned, &now)
	if err != nil {
		return nil, notFound(err, "rental awaiting return confirmation", rentalID)
	}

	logger.Info("Legacy rental return confirmed", "rentalID", lr.ID, "itemID", lr.ItemID)
	s.notifyBorrower(ctx, lr.UserID, lr.ItemID, "Return Confirmed", "LEGACY_RENTAL_RETURNED", lr.ID,
		func(borrower domain.Member, item domain.InventoryItem) error {
			return s.emailSvc.SendReturnConfirmedNotification(ctx, borrower, item.Name)
		})
	return lr, nil
}

func (s *rentalService) ListForItem(ctx context.Context, itemID int32, phases ...domain.RentalPhase) ([]domain.RentalView, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.listViews(ctx, itemID, 0, nil, phases)
}

func (s *rentalService) ListForUser(ctx context.Context, userID int32, phases ...domain.RentalPhase) ([]domain.RentalView, error) {
	return s.listViews(ctx, 0, userID, nil, phases)
}

// listViews merges both rental tables into views. An empty phase list
// selects everything; a phase one table cannot be in skips that table.
// appendView drops rows whose stored status this build does not know.
func appendView(views []domain.RentalView, v domain.RentalView) []domain.RentalView {
	if v.Phase == "" {
		logger.Warn("Skipping rental with unknown status", "kind", v.Kind, "rentalID", v.ID, "status", v.RawStatus)
		return views
	}
	return append(views, v)
}

func (s *rentalService) listViews(ctx context.Context, itemID, userID int32, endBefore *time.Time, phases []domain.RentalPhase) ([]domain.RentalView, error) {
	var views []domain.RentalView

	requestStatuses := domain.RequestStatuses(phases)
	if len(phases) == 0 || len(requestStatuses) > 0 {
		rentals, err := s.rentalRepo.List(ctx, repository.RentalFilter{
			ItemID:    itemID,
			UserID:    userID,
			Statuses:  requestStatuses,
			EndBefore: endBefore,
		})
		if err != nil {
			return nil, err
		}
		for i := range rentals {
			views = appendView(views, rentals[i].View())
		}
	}

	legacyStatuses := domain.LegacyStatuses(phases)
	if len(phases) == 0 || len(legacyStatuses) > 0 {
		legacy, err := s.legacyRepo.List(ctx, repository.LegacyRentalFilter{
			ItemID:    itemID,
			UserID:    userID,
			Statuses:  legacyStatuses,
			EndBefore: endBefore,
		})
		if err != nil {
			return nil, err
		}
		for i := range legacy {
			views = appendView(views, legacy[i].View())
		}
	}

	if err := s.enrich(ctx, views); err != nil {
		return nil, err
	}
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.ID != b.ID {
			return a.ID > b.ID
		}
		return a.Kind < b.Kind
	})
	return views, nil
}

// enrich fills borrower and item names with one bulk lookup per table.
func (s *rentalService) enrich(ctx context.Context, views []domain.RentalView) error {
	if len(views) == 0 {
		return nil
	}
	userIDs := make([]int32, 0, len(views))
	itemIDs := make([]int32, 0, len(views))
	seenUser := make(map[int32]bool)
	seenItem := make(map[int32]bool)
	for _, v := range views {
		if !seenUser[v.UserID] {
			seenUser[v.UserID] = true
			userIDs = append(userIDs, v.UserID)
		}
		if !seenItem[v.ItemID] {
			seenItem[v.ItemID] = true
			itemIDs = append(itemIDs, v.ItemID)
		}
	}

	members, err := s.memberRepo.GetByIDs(ctx, userIDs)
	if err != nil {
		return err
	}
	items, err := s.itemRepo.GetByIDs(ctx, itemIDs)
	if err != nil {
		return err
	}
	for i := range views {
		if m, ok := members[views[i].UserID]; ok {
			views[i].BorrowerName = m.FullName()
			views[i].BorrowerEmail = m.Email
		}
		if it, ok := items[views[i].ItemID]; ok {
			views[i].ItemName = it.Name
		}
	}
	return nil
}

var exportHeader = []string{
	"kind", "id", "item_id", "item_name", "user_id", "borrower_name", "borrower_email",
	"quantity", "start_date", "end_date", "status", "phase", "created_at",
}

func (s *rentalService) ExportCSV(ctx context.Context, actor domain.ActorContext, w io.Writer, phases ...domain.RentalPhase) error {
	if err := actor.RequireBoard("export rentals"); err != nil {
		return err
	}
	views, err := s.listViews(ctx, 0, 0, nil, phases)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, v := range views {
		record := []string{
			string(v.Kind),
			strconv.Itoa(int(v.ID)),
			strconv.Itoa(int(v.ItemID)),
			v.ItemName,
			strconv.Itoa(int(v.UserID)),
			v.BorrowerName,
			v.BorrowerEmail,
			strconv.Itoa(int(v.Quantity)),
			v.StartDate.Format(domain.DateLayout),
			v.EndDate.Format(domain.DateLayout),
			v.RawStatus,
			string(v.Phase),
			v.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *rentalService) SendOverdueReminders(ctx context.Context, now time.Time) (int, error) {
	logger.EnterMethod("rentalService.SendOverdueReminders")

	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	views, err := s.listViews(ctx, 0, 0, &today, []domain.RentalPhase{domain.PhaseActive})
	if err != nil {
		logger.ExitMethodWithError("rentalService.SendOverdueReminders", err)
		return 0, err
	}

	sent := 0
	for _, v := range views {
		if !v.IsOverdue(now) {
			continue
		}
		if v.BorrowerEmail == "" {
			logger.Warn("Overdue rental has no borrower email", "kind", v.Kind, "rentalID", v.ID)
			continue
		}
		if err := s.emailSvc.SendOverdueReminder(ctx, v); err != nil {
			logger.Error("Failed to send overdue reminder", "kind", v.Kind, "rentalID", v.ID, "error", err)
			continue
		}
		sent++
	}

	logger.ExitMethod("rentalService.SendOverdueReminders", "overdue", len(views), "sent", sent)
	return sent, nil
}

func (s *rentalService) lookupMember(ctx context.Context, userID int32) (domain.Member, bool) {
	m, err := s.memberRepo.GetByID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load member for notification", "userID", userID, "error", err)
		return domain.Member{}, false
	}
	return *m, true
}

// notifyBorrower sends the email and the in-app notification for a board
// decision. Both are best effort.
func (s *rentalService) notifyBorrower(ctx context.Context, userID, itemID int32, title, kind string, rentalID int32, sendEmail func(domain.Member, domain.InventoryItem) error) {
	borrower, ok := s.lookupMember(ctx, userID)
	if !ok {
		return
	}
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		logger.Warn("Failed to load item for notification", "itemID", itemID, "error", err)
		return
	}

	if err := sendEmail(borrower, *item); err != nil {
		logger.Error("Failed to email borrower", "rentalID", rentalID, "type", kind, "error", err)
	}

	note := &domain.Notification{
		UserID:  userID,
		Title:   title,
		Message: fmt.Sprintf("%s: %s", title, item.Name),
		Attributes: map[string]string{
			"type":      kind,
			"rental_id": strconv.Itoa(int(rentalID)),
			"item_id":   strconv.Itoa(int(itemID)),
		},
		CreatedAt: s.now(),
	}
	if err := s.noteRepo.Create(ctx, note); err != nil {
		logger.Error("Failed to create notification", "rentalID", rentalID, "type", kind, "error", err)
	}
}

func (s *rentalService) notifyBoardOfReturn(ctx context.Context, userID, itemID, rentalID int32, early bool) {
	borrower, ok := s.lookupMember(ctx, userID)
	if !ok {
		return
	}
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		logger.Warn("Failed to load item for notification", "itemID", itemID, "error", err)
		return
	}
	if err := s.emailSvc.SendReturnReportedNotification(ctx, borrower, *item, rentalID, early); err != nil {
		logger.Error("Failed to notify board of return", "rentalID", rentalID, "error", err)
	}
}

// notFound turns a repository ErrNotFound into a NotFoundError naming the
// resource. Other errors pass through.
func notFound(err error, resource string, id int32) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	return err
}
