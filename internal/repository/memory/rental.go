package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/repository"
)

type itemRepository struct{ st *state }

func (r *itemRepository) GetByID(ctx context.Context, id int32) (*domain.InventoryItem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	item, ok := r.st.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := r.st.itemWithAvailability(item)
	return &out, nil
}

func (r *itemRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]domain.InventoryItem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := make(map[int32]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := r.st.items[id]; ok {
			out[id] = r.st.itemWithAvailability(item)
		}
	}
	return out, nil
}

func (r *itemRepository) List(ctx context.Context) ([]domain.InventoryItem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := make([]domain.InventoryItem, 0, len(r.st.items))
	for _, item := range r.st.items {
		out = append(out, r.st.itemWithAvailability(item))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type rentalRepository struct{ st *state }

func (r *rentalRepository) Create(ctx context.Context, rt *domain.RentalRequest) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.items[rt.ItemID]; !ok {
		return fmt.Errorf("rental_requests: item %d does not exist", rt.ItemID)
	}
	rt.ID = r.st.nextID()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now().UTC()
	}
	rt.UpdatedAt = rt.CreatedAt
	r.st.rentals[rt.ID] = *rt
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.RentalRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rt, ok := r.st.rentals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rt, nil
}

func (r *rentalRepository) ApproveWithinStock(ctx context.Context, id, decidedBy int32, decidedAt time.Time) (*domain.RentalRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	rt, ok := r.st.rentals[id]
	if !ok || rt.Status != domain.RentalStatusPending {
		return nil, domain.ErrNotFound
	}
	item, ok := r.st.items[rt.ItemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rt.Quantity > domain.Available(item.Quantity, r.st.consumed(item.ID)) {
		return nil, domain.ErrInsufficientStock
	}

	rt.Status = domain.RentalStatusApproved
	rt.DecidedBy = &decidedBy
	rt.DecidedAt = &decidedAt
	rt.UpdatedAt = decidedAt
	r.st.rentals[id] = rt
	return &rt, nil
}

func (r *rentalRepository) Transition(ctx context.Context, id int32, from, to domain.RentalStatus, change domain.RentalChange) (*domain.RentalRequest, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("illegal rental transition %s -> %s", from, to)
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	rt, ok := r.st.rentals[id]
	if !ok || rt.Status != from {
		return nil, domain.ErrNotFound
	}
	rt.Status = to
	change.Apply(&rt)
	rt.UpdatedAt = time.Now().UTC()
	r.st.rentals[id] = rt
	return &rt, nil
}

func (r *rentalRepository) List(ctx context.Context, f repository.RentalFilter) ([]domain.RentalRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []domain.RentalRequest
	for _, rt := range r.st.rentals {
		if f.ItemID != 0 && rt.ItemID != f.ItemID {
			continue
		}
		if f.UserID != 0 && rt.UserID != f.UserID {
			continue
		}
		if !hasStatus(f.Statuses, rt.Status) {
			continue
		}
		if f.EndBefore != nil && !rt.EndDate.Before(*f.EndBefore) {
			continue
		}
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

type legacyRentalRepository struct{ st *state }

func (r *legacyRentalRepository) GetByID(ctx context.Context, id int32) (*domain.LegacyRental, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	lr, ok := r.st.legacy[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &lr, nil
}

func (r *legacyRentalRepository) Transition(ctx context.Context, id int32, from, to domain.LegacyRentalStatus, returnedAt *time.Time) (*domain.LegacyRental, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("illegal legacy rental transition %s -> %s", from, to)
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	lr, ok := r.st.legacy[id]
	if !ok || lr.Status != from {
		return nil, domain.ErrNotFound
	}
	lr.Status = to
	if returnedAt != nil {
		lr.ReturnedAt = returnedAt
	}
	r.st.legacy[id] = lr
	return &lr, nil
}

func (r *legacyRentalRepository) List(ctx context.Context, f repository.LegacyRentalFilter) ([]domain.LegacyRental, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []domain.LegacyRental
	for _, lr := range r.st.legacy {
		if f.ItemID != 0 && lr.ItemID != f.ItemID {
			continue
		}
		if f.UserID != 0 && lr.UserID != f.UserID {
			continue
		}
		if !hasStatus(f.Statuses, lr.Status) {
			continue
		}
		if f.EndBefore != nil && !lr.EndDate.Before(*f.EndBefore) {
			continue
		}
		out = append(out, lr)
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

type memberRepository struct{ st *state }

func (r *memberRepository) GetByID(ctx context.Context, id int32) (*domain.Member, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.members[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r *memberRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]domain.Member, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := make(map[int32]domain.Member, len(ids))
	for _, id := range ids {
		if m, ok := r.st.members[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

type eventRepository struct{ st *state }

func (r *eventRepository) GetByID(ctx context.Context, id int32) (*domain.Event, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	ev, ok := r.st.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ev, nil
}
