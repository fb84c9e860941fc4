package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"member-intranet/internal/domain"
)

var validate = validator.New()

// ParseRecipientsCSV reads recipients from CSV with an email column and
// optional first_name and last_name columns. Header names are matched
// case-insensitively. Rows repeating an earlier email are dropped.
func ParseRecipientsCSV(r io.Reader) ([]domain.MassMailRecipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.NewValidationError("recipients_csv", "file is empty")
	}
	if err != nil {
		return nil, &domain.ValidationError{Field: "recipients_csv", Message: err.Error(), Err: err}
	}

	cols := map[string]int{"email": -1, "first_name": -1, "last_name": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, known := cols[key]; known {
			cols[key] = i
		}
	}
	if cols["email"] < 0 {
		return nil, domain.NewValidationError("recipients_csv", "header must contain an email column")
	}

	field := func(record []string, name string) string {
		i := cols[name]
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var recipients []domain.MassMailRecipient
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ValidationError{Field: "recipients_csv", Message: err.Error(), Err: err}
		}
		line, _ := cr.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		email := field(record, "email")
		if err := validate.Var(email, "required,email"); err != nil {
			return nil, domain.NewValidationError("recipients_csv", fmt.Sprintf("line %d: invalid email %q", line, email))
		}
		recipients = append(recipients, domain.MassMailRecipient{
			Email:     email,
			FirstName: field(record, "first_name"),
			LastName:  field(record, "last_name"),
		})
	}
	return normalizeRecipients(recipients)
}

// normalizeRecipients validates every address and drops duplicates, keeping
// the first occurrence.
func normalizeRecipients(in []domain.MassMailRecipient) ([]domain.MassMailRecipient, error) {
	seen := make(map[string]bool, len(in))
	out := make([]domain.MassMailRecipient, 0, len(in))
	for i, rcpt := range in {
		rcpt.Email = strings.TrimSpace(rcpt.Email)
		if err := validate.Var(rcpt.Email, "required,email"); err != nil {
			return nil, domain.NewValidationError("recipients", fmt.Sprintf("recipient %d: invalid email %q", i+1, rcpt.Email))
		}
		key := rcpt.NormalizedEmail()
		if seen[key] {
			continue
		}
		seen[key] = true
		rcpt.ID = 0
		rcpt.JobID = 0
		rcpt.Status = domain.RecipientStatusPending
		out = append(out, rcpt)
	}
	if len(out) == 0 {
		return nil, domain.NewValidationError("recipients", "at least one recipient is required")
	}
	return out, nil
}
