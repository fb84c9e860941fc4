package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRentalStatus_Transitions(t *testing.T) {
	allowed := map[[2]RentalStatus]bool{
		{RentalStatusPending, RentalStatusApproved}:       true,
		{RentalStatusPending, RentalStatusRejected}:       true,
		{RentalStatusApproved, RentalStatusPendingReturn}: true,
		{RentalStatusPendingReturn, RentalStatusReturned}: true,
	}

	for _, from := range RentalStatuses() {
		for _, to := range RentalStatuses() {
			want := allowed[[2]RentalStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, RentalStatusRejected.Terminal())
	assert.True(t, RentalStatusReturned.Terminal())
	assert.False(t, RentalStatusApproved.Terminal())
	assert.False(t, RentalStatus("bogus").Valid())
	assert.False(t, RentalStatus("bogus").Terminal())
}

func TestLegacyRentalStatus_Transitions(t *testing.T) {
	assert.True(t, LegacyStatusActive.CanTransitionTo(LegacyStatusPendingReturn))
	assert.True(t, LegacyStatusPendingReturn.CanTransitionTo(LegacyStatusReturned))
	assert.False(t, LegacyStatusActive.CanTransitionTo(LegacyStatusReturned))
	assert.False(t, LegacyStatusReturned.CanTransitionTo(LegacyStatusActive))
	assert.True(t, LegacyStatusReturned.Terminal())
}

func TestConsumesStock(t *testing.T) {
	consuming := map[RentalStatus]bool{
		RentalStatusApproved:      true,
		RentalStatusPendingReturn: true,
	}
	for _, s := range RentalStatuses() {
		assert.Equal(t, consuming[s], s.ConsumesStock(), string(s))
	}

	assert.True(t, LegacyStatusActive.ConsumesStock())
	assert.True(t, LegacyStatusPendingReturn.ConsumesStock())
	assert.False(t, LegacyStatusReturned.ConsumesStock())
}

func TestPhaseMapping(t *testing.T) {
	assert.Equal(t, []RentalStatus{RentalStatusApproved}, RequestStatuses([]RentalPhase{PhaseActive}))
	assert.Equal(t, []LegacyRentalStatus{LegacyStatusActive}, LegacyStatuses([]RentalPhase{PhaseActive}))
	assert.Empty(t, LegacyStatuses([]RentalPhase{PhasePending, PhaseRejected}))
	assert.Equal(t,
		[]RentalStatus{RentalStatusPendingReturn, RentalStatusReturned},
		RequestStatuses([]RentalPhase{PhasePendingReturn, PhaseReturned}))

	p, err := ParseRentalPhase("pending_return")
	require.NoError(t, err)
	assert.Equal(t, PhasePendingReturn, p)

	_, err = ParseRentalPhase("overdue")
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))

	assert.NotPanics(t, func() {
		assert.Equal(t, RentalPhase(""), RentalStatus("archived").Phase())
		assert.Equal(t, RentalPhase(""), LegacyRentalStatus("lost").Phase())
	})
}

func TestRentalView(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	req := &RentalRequest{ID: 7, ItemID: 2, UserID: 3, Quantity: 2, StartDate: start, EndDate: end, Status: RentalStatusApproved}
	v := req.View()
	assert.Equal(t, RentalKindRequest, v.Kind)
	assert.Equal(t, "approved", v.RawStatus)
	assert.Equal(t, PhaseActive, v.Phase)

	legacy := &LegacyRental{ID: 7, ItemID: 2, UserID: 3, Quantity: 1, StartDate: start, EndDate: end, Status: LegacyStatusActive}
	lv := legacy.View()
	assert.Equal(t, RentalKindLegacy, lv.Kind)
	assert.Equal(t, "active", lv.RawStatus)
	assert.Equal(t, PhaseActive, lv.Phase)

	assert.True(t, v.IsOverdue(end.AddDate(0, 0, 1)))
	assert.False(t, v.IsOverdue(end))
}

func TestIsEarlyReturn(t *testing.T) {
	end := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.True(t, IsEarlyReturn(end, time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)))
	assert.False(t, IsEarlyReturn(end, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)))
	assert.False(t, IsEarlyReturn(end, end.AddDate(0, 0, 2)))
}

func TestRentalChange_Apply(t *testing.T) {
	by := int32(9)
	at := time.Now()
	r := &RentalRequest{RejectionReason: "old"}
	RentalChange{DecidedBy: &by, DecidedAt: &at}.Apply(r)

	require.NotNil(t, r.DecidedBy)
	assert.Equal(t, by, *r.DecidedBy)
	assert.Equal(t, "old", r.RejectionReason)
	assert.Nil(t, r.ReturnedAt)
}

func TestErrors(t *testing.T) {
	nf := &NotFoundError{Resource: "rental request", ID: 4}
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.Equal(t, "rental request 4 not found", nf.Error())

	v := &ValidationError{Field: "quantity", Message: "exceeds available stock", Err: ErrInsufficientStock}
	assert.True(t, errors.Is(v, ErrInsufficientStock))

	gw := &TransientGatewayError{Provider: "sendgrid", Err: errors.New("503")}
	assert.Contains(t, gw.Error(), "sendgrid")

	assert.Error(t, ActorContext{UserID: 1}.RequireBoard("approve"))
	assert.NoError(t, ActorContext{UserID: 1, Board: true}.RequireBoard("approve"))
	assert.Error(t, ActorContext{}.RequireMember("submit"))
	assert.Equal(t, int32(0), Available(3, 5))
	assert.Equal(t, int32(2), Available(5, 3))
}
