// Package memory keeps every repository in process memory behind one mutex.
// It backs the "memory" database driver for local runs and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/repository"
)

type state struct {
	mu sync.Mutex

	items      map[int32]domain.InventoryItem
	rentals    map[int32]domain.RentalRequest
	legacy     map[int32]domain.LegacyRental
	members    map[int32]domain.Member
	events     map[int32]domain.Event
	jobs       map[int32]domain.MassMailJob
	recipients map[int32]domain.MassMailRecipient
	notes      map[int32]domain.Notification

	seq int32
}

func (s *state) nextID() int32 {
	s.seq++
	return s.seq
}

// consumed must be called with mu held.
func (s *state) consumed(itemID int32) int32 {
	var total int32
	for _, r := range s.rentals {
		if r.ItemID == itemID && r.Status.ConsumesStock() {
			total += r.Quantity
		}
	}
	for _, l := range s.legacy {
		if l.ItemID == itemID && l.Status.ConsumesStock() {
			total += l.Quantity
		}
	}
	return total
}

func (s *state) itemWithAvailability(item domain.InventoryItem) domain.InventoryItem {
	item.AvailableQuantity = domain.Available(item.Quantity, s.consumed(item.ID))
	return item
}

type Store struct {
	st *state
	repository.ItemRepository
	repository.RentalRepository
	repository.LegacyRentalRepository
	repository.MemberRepository
	repository.EventRepository
	repository.MassMailRepository
	repository.NotificationRepository
}

func NewStore() *Store {
	st := &state{
		items:      map[int32]domain.InventoryItem{},
		rentals:    map[int32]domain.RentalRequest{},
		legacy:     map[int32]domain.LegacyRental{},
		members:    map[int32]domain.Member{},
		events:     map[int32]domain.Event{},
		jobs:       map[int32]domain.MassMailJob{},
		recipients: map[int32]domain.MassMailRecipient{},
		notes:      map[int32]domain.Notification{},
	}
	return &Store{
		st:                     st,
		ItemRepository:         &itemRepository{st},
		RentalRepository:       &rentalRepository{st},
		LegacyRentalRepository: &legacyRentalRepository{st},
		MemberRepository:       &memberRepository{st},
		EventRepository:        &eventRepository{st},
		MassMailRepository:     &massMailRepository{st},
		NotificationRepository: &notificationRepository{st},
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// AddItem seeds a catalog item and returns its id.
func (s *Store) AddItem(item domain.InventoryItem) int32 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.st.nextID()
	}
	item.AvailableQuantity = 0
	s.st.items[item.ID] = item
	return item.ID
}

func (s *Store) AddMember(m domain.Member) int32 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.st.nextID()
	}
	s.st.members[m.ID] = m
	return m.ID
}

func (s *Store) AddEvent(ev domain.Event) int32 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if ev.ID == 0 {
		ev.ID = s.st.nextID()
	}
	s.st.events[ev.ID] = ev
	return ev.ID
}

// AddLegacyRental seeds a row in the pre-approval rental table.
func (s *Store) AddLegacyRental(lr domain.LegacyRental) int32 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if lr.ID == 0 {
		lr.ID = s.st.nextID()
	}
	if lr.CreatedAt.IsZero() {
		lr.CreatedAt = time.Now().UTC()
	}
	s.st.legacy[lr.ID] = lr
	return lr.ID
}

// Recipients returns every recipient of a job ordered by id.
func (s *Store) Recipients(jobID int32) []domain.MassMailRecipient {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []domain.MassMailRecipient
	for _, rc := range s.st.recipients {
		if rc.JobID == jobID {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasStatus[T comparable](statuses []T, s T) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func newestFirst(aCreated, bCreated time.Time, aID, bID int32) bool {
	if !aCreated.Equal(bCreated) {
		return aCreated.After(bCreated)
	}
	return aID > bID
}
