package contact

import (
	"context"

	"github.com/ignite/contact-orchestrator/internal/domain"
)

// Repository defines the durable store for contact records.
// Implementations must be safe for concurrent use and every write must be
// durable before it returns.
type Repository interface {
	// Create persists a new record. Returns ErrDuplicateID if the id is taken.
	Create(ctx context.Context, c *domain.Contact) error

	// Get returns a single record. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Contact, error)

	// List returns every record, newest first.
	List(ctx context.Context) ([]domain.Contact, error)

	// UpdateChannelStatus overwrites one channel entry unconditionally.
	UpdateChannelStatus(ctx context.Context, id string, ch domain.Channel, st domain.DispatchStatus) error

	// TransitionChannel writes next only if the channel is currently in
	// state from. Otherwise it returns a *StateConflictError carrying the
	// observed state. Concurrent callers racing on the same (id, channel)
	// see exactly one success.
	TransitionChannel(ctx context.Context, id string, ch domain.Channel, from domain.DispatchState, next domain.DispatchStatus) error

	// ListByChannelState returns records with at least one channel in state.
	ListByChannelState(ctx context.Context, state domain.DispatchState) ([]domain.Contact, error)

	Close() error
}

// Dispatcher schedules channel attempts. dispatch.Coordinator implements it.
type Dispatcher interface {
	// Dispatch schedules every pending channel of c.
	Dispatch(ctx context.Context, c *domain.Contact)
	// DispatchChannel schedules one channel of the record with the given id.
	DispatchChannel(ctx context.Context, id string, ch domain.Channel)
}

// MediaStore persists decoded media blobs and returns an opaque reference.
type MediaStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

// MediaFetcher downloads media held by the messaging bridge.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}
