// Package contacttest holds the behavioural suite every contact.Repository
// backend must pass, plus fixture helpers.
package contacttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

// NewContact builds a record created at t with messaging and connector
// pending and notifier not applicable.
func NewContact(t time.Time, suffix string) *domain.Contact {
	t = t.UTC()
	return &domain.Contact{
		ID:           domain.NewContactID(t, suffix),
		FirstName:    "John",
		LastName:     "Doe",
		PhoneNumbers: []string{"+1234567890"},
		URLs:         []string{"https://site/in/johndoe/"},
		ProfileURL:   "https://site/in/johndoe/",
		CreatedAt:    t,
		ChannelStatus: map[domain.Channel]domain.DispatchStatus{
			domain.ChannelMessaging: {State: domain.StatePending, UpdatedAt: t},
			domain.ChannelConnector: {State: domain.StatePending, UpdatedAt: t},
			domain.ChannelNotifier:  {State: domain.StateNotApplicable, UpdatedAt: t},
		},
	}
}

// RunRepositoryContract exercises a Repository implementation. newRepo must
// return an empty store.
func RunRepositoryContract(t *testing.T, newRepo func(t *testing.T) contact.Repository) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("CreateGet", func(t *testing.T) {
		repo := newRepo(t)
		c := NewContact(base, "aaaa0001")
		require.NoError(t, repo.Create(ctx, c))

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, c.FirstName, got.FirstName)
		assert.Equal(t, c.PhoneNumbers, got.PhoneNumbers)
		assert.Equal(t, c.ProfileURL, got.ProfileURL)
		assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, domain.StatePending, got.Status(domain.ChannelMessaging).State)
		assert.Equal(t, domain.StateNotApplicable, got.Status(domain.ChannelNotifier).State)
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, contact.ErrNotFound)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		repo := newRepo(t)
		c := NewContact(base, "aaaa0001")
		require.NoError(t, repo.Create(ctx, c))
		assert.ErrorIs(t, repo.Create(ctx, c), contact.ErrDuplicateID)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		repo := newRepo(t)
		var ids []string
		for i := 0; i < 3; i++ {
			c := NewContact(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("bbbb000%d", i))
			require.NoError(t, repo.Create(ctx, c))
			ids = append(ids, c.ID)
		}
		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, ids[2], list[0].ID)
		assert.Equal(t, ids[1], list[1].ID)
		assert.Equal(t, ids[0], list[2].ID)
	})

	t.Run("UpdateChannelStatus", func(t *testing.T) {
		repo := newRepo(t)
		c := NewContact(base, "cccc0001")
		require.NoError(t, repo.Create(ctx, c))

		st := domain.DispatchStatus{State: domain.StateFailed, Reason: "boom", Retryable: true, Attempts: 1, UpdatedAt: base}
		require.NoError(t, repo.UpdateChannelStatus(ctx, c.ID, domain.ChannelMessaging, st))

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		ms := got.Status(domain.ChannelMessaging)
		assert.Equal(t, domain.StateFailed, ms.State)
		assert.Equal(t, "boom", ms.Reason)
		assert.True(t, ms.Retryable)
		assert.Equal(t, 1, ms.Attempts)
		// Other channels untouched.
		assert.Equal(t, domain.StatePending, got.Status(domain.ChannelConnector).State)

		err = repo.UpdateChannelStatus(ctx, "nope", domain.ChannelMessaging, st)
		assert.ErrorIs(t, err, contact.ErrNotFound)
	})

	t.Run("TransitionCAS", func(t *testing.T) {
		repo := newRepo(t)
		c := NewContact(base, "dddd0001")
		require.NoError(t, repo.Create(ctx, c))

		claim := domain.DispatchStatus{State: domain.StateInProgress, Attempts: 1, UpdatedAt: base}
		require.NoError(t, repo.TransitionChannel(ctx, c.ID, domain.ChannelConnector, domain.StatePending, claim))

		err := repo.TransitionChannel(ctx, c.ID, domain.ChannelConnector, domain.StatePending, claim)
		require.ErrorIs(t, err, contact.ErrStateConflict)
		var conflict *contact.StateConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, domain.StateInProgress, conflict.Current)

		err = repo.TransitionChannel(ctx, "nope", domain.ChannelConnector, domain.StatePending, claim)
		assert.ErrorIs(t, err, contact.ErrNotFound)
	})

	t.Run("ConcurrentTransitionSingleWinner", func(t *testing.T) {
		repo := newRepo(t)
		c := NewContact(base, "eeee0001")
		require.NoError(t, repo.Create(ctx, c))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.TransitionChannel(ctx, c.ID, domain.ChannelMessaging, domain.StatePending,
					domain.DispatchStatus{State: domain.StateInProgress, Attempts: 1, UpdatedAt: base})
				if err == nil {
					atomic.AddInt32(&wins, 1)
				} else {
					assert.ErrorIs(t, err, contact.ErrStateConflict)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("ListByChannelState", func(t *testing.T) {
		repo := newRepo(t)
		a := NewContact(base, "ffff0001")
		b := NewContact(base.Add(time.Second), "ffff0002")
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.Create(ctx, b))
		require.NoError(t, repo.TransitionChannel(ctx, b.ID, domain.ChannelMessaging, domain.StatePending,
			domain.DispatchStatus{State: domain.StateInProgress, Attempts: 1, UpdatedAt: base}))

		inProgress, err := repo.ListByChannelState(ctx, domain.StateInProgress)
		require.NoError(t, err)
		require.Len(t, inProgress, 1)
		assert.Equal(t, b.ID, inProgress[0].ID)

		pending, err := repo.ListByChannelState(ctx, domain.StatePending)
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		succeeded, err := repo.ListByChannelState(ctx, domain.StateSucceeded)
		require.NoError(t, err)
		assert.Empty(t, succeeded)
	})
}
