// Package memory provides an in-process contact store for development and
// tests. Records do not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

// ContactRepo implements contact.Repository in memory.
type ContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact
}

// NewContactRepo creates an empty repository.
func NewContactRepo() *ContactRepo {
	return &ContactRepo{contacts: make(map[string]*domain.Contact)}
}

func (r *ContactRepo) Create(_ context.Context, c *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[c.ID]; ok {
		return contact.ErrDuplicateID
	}
	r.contacts[c.ID] = c.Clone()
	return nil
}

func (r *ContactRepo) Get(_ context.Context, id string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, contact.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *ContactRepo) List(_ context.Context) ([]domain.Contact, error) {
	return r.filter(func(*domain.Contact) bool { return true }), nil
}

func (r *ContactRepo) ListByChannelState(_ context.Context, state domain.DispatchState) ([]domain.Contact, error) {
	return r.filter(func(c *domain.Contact) bool {
		for _, st := range c.ChannelStatus {
			if st.State == state {
				return true
			}
		}
		return false
	}), nil
}

func (r *ContactRepo) filter(keep func(*domain.Contact) bool) []domain.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		if keep(c) {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *ContactRepo) UpdateChannelStatus(_ context.Context, id string, ch domain.Channel, st domain.DispatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return contact.ErrNotFound
	}
	c.ChannelStatus[ch] = st
	return nil
}

func (r *ContactRepo) TransitionChannel(_ context.Context, id string, ch domain.Channel, from domain.DispatchState, next domain.DispatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return contact.ErrNotFound
	}
	if cur := c.Status(ch); cur.State != from {
		return &contact.StateConflictError{Channel: ch, Current: cur.State}
	}
	c.ChannelStatus[ch] = next
	return nil
}

func (r *ContactRepo) Close() error { return nil }
