package contact

import (
	"errors"
	"fmt"

	"github.com/ignite/contact-orchestrator/internal/domain"
)

// Sentinel errors for the contact service layer.
var (
	ErrNotFound       = errors.New("contact not found")
	ErrDuplicateID    = errors.New("contact id already exists")
	ErrStateConflict  = errors.New("channel state changed concurrently")
	ErrInvalidPayload = errors.New("invalid contact payload")
	ErrInvalidState   = errors.New("channel is not in a re-triggerable state")
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrMediaUnavailable means referenced media could not be fetched from
	// the messaging bridge.
	ErrMediaUnavailable = errors.New("referenced media unavailable")
)

// StateConflictError is returned by Repository.TransitionChannel when the
// stored state does not match the expected one. It matches
// ErrStateConflict under errors.Is.
type StateConflictError struct {
	Channel domain.Channel
	Current domain.DispatchState
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("channel %s is %s", e.Channel, e.Current)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}
