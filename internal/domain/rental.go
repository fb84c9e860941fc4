package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for rental start and end dates.
const DateLayout = "2006-01-02"

// RentalStatus is the lifecycle state of a board-approved rental request.
type RentalStatus string

const (
	RentalStatusPending       RentalStatus = "pending"
	RentalStatusApproved      RentalStatus = "approved"
	RentalStatusPendingReturn RentalStatus = "pending_return"
	RentalStatusRejected      RentalStatus = "rejected"
	RentalStatusReturned      RentalStatus = "returned"
)

var rentalTransitions = map[RentalStatus][]RentalStatus{
	RentalStatusPending:       {RentalStatusApproved, RentalStatusRejected},
	RentalStatusApproved:      {RentalStatusPendingReturn},
	RentalStatusPendingReturn: {RentalStatusReturned},
	RentalStatusRejected:      nil,
	RentalStatusReturned:      nil,
}

// RentalStatuses lists every request status in lifecycle order.
func RentalStatuses() []RentalStatus {
	return []RentalStatus{
		RentalStatusPending,
		RentalStatusApproved,
		RentalStatusPendingReturn,
		RentalStatusRejected,
		RentalStatusReturned,
	}
}

func (s RentalStatus) Valid() bool {
	_, ok := rentalTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s RentalStatus) CanTransitionTo(next RentalStatus) bool {
	for _, allowed := range rentalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s RentalStatus) Terminal() bool {
	return s.Valid() && len(rentalTransitions[s]) == 0
}

// ConsumesStock reports whether a request in this status counts against
// the item's available quantity.
func (s RentalStatus) ConsumesStock() bool {
	return s == RentalStatusApproved || s == RentalStatusPendingReturn
}

// Phase maps the request status onto the shared rental vocabulary. An
// unknown status maps to the empty phase.
func (s RentalStatus) Phase() RentalPhase {
	switch s {
	case RentalStatusPending:
		return PhasePending
	case RentalStatusApproved:
		return PhaseActive
	case RentalStatusPendingReturn:
		return PhasePendingReturn
	case RentalStatusRejected:
		return PhaseRejected
	case RentalStatusReturned:
		return PhaseReturned
	default:
		return ""
	}
}

// LegacyRentalStatus is the lifecycle state of a rental created before
// board approval existed. Legacy rentals start out active.
type LegacyRentalStatus string

const (
	LegacyStatusActive        LegacyRentalStatus = "active"
	LegacyStatusPendingReturn LegacyRentalStatus = "pending_return"
	LegacyStatusReturned      LegacyRentalStatus = "returned"
)

var legacyTransitions = map[LegacyRentalStatus][]LegacyRentalStatus{
	LegacyStatusActive:        {LegacyStatusPendingReturn},
	LegacyStatusPendingReturn: {LegacyStatusReturned},
	LegacyStatusReturned:      nil,
}

func LegacyRentalStatuses() []LegacyRentalStatus {
	return []LegacyRentalStatus{LegacyStatusActive, LegacyStatusPendingReturn, LegacyStatusReturned}
}

func (s LegacyRentalStatus) Valid() bool {
	_, ok := legacyTransitions[s]
	return ok
}

func (s LegacyRentalStatus) CanTransitionTo(next LegacyRentalStatus) bool {
	for _, allowed := range legacyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s LegacyRentalStatus) Terminal() bool {
	return s.Valid() && len(legacyTransitions[s]) == 0
}

func (s LegacyRentalStatus) ConsumesStock() bool {
	return s == LegacyStatusActive || s == LegacyStatusPendingReturn
}

func (s LegacyRentalStatus) Phase() RentalPhase {
	switch s {
	case LegacyStatusActive:
		return PhaseActive
	case LegacyStatusPendingReturn:
		return PhasePendingReturn
	case LegacyStatusReturned:
		return PhaseReturned
	default:
		return ""
	}
}

// RentalPhase is the status vocabulary shared by both rental variants.
type RentalPhase string

const (
	PhasePending       RentalPhase = "pending"
	PhaseActive        RentalPhase = "active"
	PhasePendingReturn RentalPhase = "pending_return"
	PhaseReturned      RentalPhase = "returned"
	PhaseRejected      RentalPhase = "rejected"
)

// ParseRentalPhase accepts a phase name as sent by clients.
func ParseRentalPhase(s string) (RentalPhase, error) {
	switch p := RentalPhase(s); p {
	case PhasePending, PhaseActive, PhasePendingReturn, PhaseReturned, PhaseRejected:
		return p, nil
	}
	return "", NewValidationError("phase", fmt.Sprintf("unknown rental phase %q", s))
}

// RequestStatuses returns the request statuses that map onto the given phases.
func RequestStatuses(phases []RentalPhase) []RentalStatus {
	var out []RentalStatus
	for _, s := range RentalStatuses() {
		if containsPhase(phases, s.Phase()) {
			out = append(out, s)
		}
	}
	return out
}

// LegacyStatuses returns the legacy statuses that map onto the given phases.
func LegacyStatuses(phases []RentalPhase) []LegacyRentalStatus {
	var out []LegacyRentalStatus
	for _, s := range LegacyRentalStatuses() {
		if containsPhase(phases, s.Phase()) {
			out = append(out, s)
		}
	}
	return out
}

func containsPhase(phases []RentalPhase, p RentalPhase) bool {
	for _, candidate := range phases {
		if candidate == p {
			return true
		}
	}
	return false
}

// RentalRequest is a member's request to borrow an item, decided by the board.
type RentalRequest struct {
	ID              int32        `json:"id"`
	ItemID          int32        `json:"item_id"`
	UserID          int32        `json:"user_id"`
	Quantity        int32        `json:"quantity"`
	StartDate       time.Time    `json:"start_date"`
	EndDate         time.Time    `json:"end_date"`
	Purpose         string       `json:"purpose"`
	Status          RentalStatus `json:"status"`
	DecidedBy       *int32       `json:"decided_by,omitempty"`
	DecidedAt       *time.Time   `json:"decided_at,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	ReturnedAt      *time.Time   `json:"returned_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// RentalChange carries the audit columns written alongside a status change.
// Nil and empty fields leave the stored value untouched.
type RentalChange struct {
	DecidedBy       *int32
	DecidedAt       *time.Time
	RejectionReason string
	ReturnedAt      *time.Time
}

// Apply copies the non-empty fields of c onto r.
func (c RentalChange) Apply(r *RentalRequest) {
	if c.DecidedBy != nil {
		r.DecidedBy = c.DecidedBy
	}
	if c.DecidedAt != nil {
		r.DecidedAt = c.DecidedAt
	}
	if c.RejectionReason != "" {
		r.RejectionReason = c.RejectionReason
	}
	if c.ReturnedAt != nil {
		r.ReturnedAt = c.ReturnedAt
	}
}

// LegacyRental is a rental row from the pre-approval table.
type LegacyRental struct {
	ID         int32              `json:"id"`
	ItemID     int32              `json:"item_id"`
	UserID     int32              `json:"user_id"`
	Quantity   int32              `json:"quantity"`
	StartDate  time.Time          `json:"start_date"`
	EndDate    time.Time          `json:"end_date"`
	Status     LegacyRentalStatus `json:"status"`
	ReturnedAt *time.Time         `json:"returned_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// RentalKind tags which table a RentalView was read from.
type RentalKind string

const (
	RentalKindRequest RentalKind = "request"
	RentalKindLegacy  RentalKind = "legacy"
)

// RentalView is the merged read projection over requests and legacy rentals.
// RawStatus keeps the variant's own vocabulary, Phase the shared one.
type RentalView struct {
	Kind          RentalKind  `json:"kind"`
	ID            int32       `json:"id"`
	ItemID        int32       `json:"item_id"`
	ItemName      string      `json:"item_name"`
	UserID        int32       `json:"user_id"`
	Quantity      int32       `json:"quantity"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       time.Time   `json:"end_date"`
	Purpose       string      `json:"purpose,omitempty"`
	RawStatus     string      `json:"raw_status"`
	Phase         RentalPhase `json:"phase"`
	BorrowerName  string      `json:"borrower_name"`
	BorrowerEmail string      `json:"borrower_email"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (r *RentalRequest) View() RentalView {
	return RentalView{
		Kind:      RentalKindRequest,
		ID:        r.ID,
		ItemID:    r.ItemID,
		UserID:    r.UserID,
		Quantity:  r.Quantity,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Purpose:   r.Purpose,
		RawStatus: string(r.Status),
		Phase:     r.Status.Phase(),
		CreatedAt: r.CreatedAt,
	}
}

func (r *LegacyRental) View() RentalView {
	return RentalView{
		Kind:      RentalKindLegacy,
		ID:        r.ID,
		ItemID:    r.ItemID,
		UserID:    r.UserID,
		Quantity:  r.Quantity,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		RawStatus: string(r.Status),
		Phase:     r.Status.Phase(),
		CreatedAt: r.CreatedAt,
	}
}

// IsEarlyReturn reports whether a return reported on day today precedes
// the agreed end date. Only calendar dates are compared.
func IsEarlyReturn(endDate, today time.Time) bool {
	return truncateDay(today).Before(truncateDay(endDate))
}

// IsOverdue reports whether a rental that is still out has passed its end date.
func (v RentalView) IsOverdue(today time.Time) bool {
	return v.Phase == PhaseActive && truncateDay(v.EndDate).Before(truncateDay(today))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
