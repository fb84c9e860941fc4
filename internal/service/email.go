package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/mailer"
)

const signature = "\n\nBest regards,\nThe Board"

type emailService struct {
	sender       mailer.Sender
	boardAddress string
}

func NewEmailService(sender mailer.Sender, boardAddress string) EmailService {
	return &emailService{sender: sender, boardAddress: boardAddress}
}

func (s *emailService) send(ctx context.Context, to, toName, subject, body string) error {
	return s.sender.Send(ctx, mailer.Message{
		To:       to,
		ToName:   toName,
		Subject:  subject,
		TextBody: body,
		HTMLBody: textToHTML(body),
	})
}

func (s *emailService) sendBoard(ctx context.Context, subject, body string) error {
	if s.boardAddress == "" {
		logger.Warn("No board address configured, skipping board email", "subject", subject)
		return nil
	}
	return s.send(ctx, s.boardAddress, "Board", subject, body)
}

func (s *emailService) SendRentalRequestNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, rt *domain.RentalRequest) error {
	subject := fmt.Sprintf("New Rental Request: %s", item.Name)
	body := fmt.Sprintf("Hello,\n\n%s requested %d %s of %s from %s to %s.\n\nPurpose: %s\n\nPlease approve or reject the request in the intranet.",
		displayName(borrower), rt.Quantity, item.Unit, item.Name,
		rt.StartDate.Format(domain.DateLayout), rt.EndDate.Format(domain.DateLayout), rt.Purpose)
	return s.sendBoard(ctx, subject, body+signature)
}

func (s *emailService) SendReturnReportedNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, rentalID int32, early bool) error {
	subject := fmt.Sprintf("Return Reported: %s", item.Name)
	body := fmt.Sprintf("Hello,\n\n%s reported the return of %s (rental #%d).", displayName(borrower), item.Name, rentalID)
	if early {
		body += "\n\nThe item was returned before the agreed end date."
	}
	body += "\n\nPlease confirm the return once the item is back in stock."
	return s.sendBoard(ctx, subject, body+signature)
}

func (s *emailService) SendRentalApprovalNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, rt *domain.RentalRequest) error {
	subject := fmt.Sprintf("Rental Request Approved: %s", item.Name)
	body := fmt.Sprintf("Hello %s,\n\nYour request for %d %s of %s from %s to %s has been approved.",
		displayName(borrower), rt.Quantity, item.Unit, item.Name,
		rt.StartDate.Format(domain.DateLayout), rt.EndDate.Format(domain.DateLayout))
	return s.send(ctx, borrower.Email, borrower.FullName(), subject, body+signature)
}

func (s *emailService) SendRentalRejectionNotification(ctx context.Context, borrower domain.Member, item domain.InventoryItem, reason string) error {
	subject := fmt.Sprintf("Rental Request Rejected: %s", item.Name)
	body := fmt.Sprintf("Hello %s,\n\nYour request for %s has been rejected.", displayName(borrower), item.Name)
	if reason != "" {
		body += fmt.Sprintf("\n\nReason: %s", reason)
	}
	return s.send(ctx, borrower.Email, borrower.FullName(), subject, body+signature)
}

func (s *emailService) SendReturnConfirmedNotification(ctx context.Context, borrower domain.Member, itemName string) error {
	subject := fmt.Sprintf("Return Confirmed: %s", itemName)
	body := fmt.Sprintf("Hello %s,\n\nThe board confirmed the return of %s. Thank you!", displayName(borrower), itemName)
	return s.send(ctx, borrower.Email, borrower.FullName(), subject, body+signature)
}

func (s *emailService) SendOverdueReminder(ctx context.Context, view domain.RentalView) error {
	subject := fmt.Sprintf("Reminder: please return %s", view.ItemName)
	name := view.BorrowerName
	if name == "" {
		name = "member"
	}
	body := fmt.Sprintf("Hello %s,\n\nYour rental of %d x %s was due back on %s. Please return it and report the return in the intranet.",
		name, view.Quantity, view.ItemName, view.EndDate.Format(domain.DateLayout))
	return s.send(ctx, view.BorrowerEmail, view.BorrowerName, subject, body+signature)
}

func displayName(m domain.Member) string {
	if name := m.FullName(); name != "" {
		return name
	}
	return m.Email
}

func textToHTML(body string) string {
	paragraphs := strings.Split(html.EscapeString(body), "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = "<p>" + strings.ReplaceAll(p, "\n", "<br>") + "</p>"
	}
	return strings.Join(paragraphs, "\n")
}
