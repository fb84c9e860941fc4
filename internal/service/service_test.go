package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"member-intranet/internal/config"
	"member-intranet/internal/distlock"
	"member-intranet/internal/domain"
	"member-intranet/internal/mailer"
	"member-intranet/internal/repository/memory"
)

const boardAddress = "board@club.example"

// recordingSender keeps every message and fails for addresses in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    []mailer.Message
	failFor map[string]bool
}

func newRecordingSender(failing ...string) *recordingSender {
	s := &recordingSender{failFor: map[string]bool{}}
	for _, addr := range failing {
		s.failFor[addr] = true
	}
	return s
}

func (s *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	if s.failFor[msg.To] {
		return &domain.TransientGatewayError{Provider: "test", Err: errors.New("mailbox unavailable")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []mailer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailer.Message(nil), s.sent...)
}

func (s *recordingSender) to(addr string) []mailer.Message {
	var out []mailer.Message
	for _, m := range s.messages() {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

var (
	board    = domain.ActorContext{UserID: 1, Board: true}
	fixedNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
)

func member(id int32) domain.ActorContext {
	return domain.ActorContext{UserID: id}
}

type rentalFixture struct {
	store  *memory.Store
	sender *recordingSender
	svc    *rentalService
}

func newRentalFixture() *rentalFixture {
	store := memory.NewStore()
	sender := newRecordingSender()
	svc := NewRentalService(store.ItemRepository, store.RentalRepository, store.LegacyRentalRepository,
		store.MemberRepository, store.NotificationRepository, NewEmailService(sender, boardAddress)).(*rentalService)
	svc.now = func() time.Time { return fixedNow }
	return &rentalFixture{store: store, sender: sender, svc: svc}
}

func (f *rentalFixture) available(id int32) int32 {
	item, err := f.store.ItemRepository.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return item.AvailableQuantity
}

type massMailFixture struct {
	store  *memory.Store
	sender *recordingSender
	locks  distlock.Factory
	svc    *massMailService
	clock  time.Time
}

func newMassMailFixture(failing ...string) *massMailFixture {
	store := memory.NewStore()
	sender := newRecordingSender(failing...)
	locks := distlock.NewLocalFactory()
	f := &massMailFixture{store: store, sender: sender, locks: locks, clock: fixedNow}
	svc := NewMassMailService(store.MassMailRepository, store.EventRepository, sender, locks, config.MassMailConfig{
		BatchSize:          200,
		ResumeDelayMinutes: 60,
		DueJobsPerRun:      10,
	}).(*massMailService)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}
