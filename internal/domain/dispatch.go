package domain

import (
	"fmt"
	"time"
)

// Channel names one independent outbound communication mechanism.
type Channel string

const (
	ChannelMessaging Channel = "messaging"
	ChannelConnector Channel = "connector"
	ChannelNotifier  Channel = "notifier"
)

// AllChannels lists every channel in a stable order.
var AllChannels = []Channel{ChannelMessaging, ChannelConnector, ChannelNotifier}

// ParseChannel validates a channel name coming from the outside world.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelMessaging, ChannelConnector, ChannelNotifier:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// DispatchState enumerates the lifecycle of one (contact, channel) pair.
type DispatchState string

const (
	StateNotApplicable DispatchState = "not_applicable"
	StatePending       DispatchState = "pending"
	StateInProgress    DispatchState = "in_progress"
	StateSucceeded     DispatchState = "succeeded"
	StateFailed        DispatchState = "failed"
)

// CanTransition reports whether from -> to is a legal edge of the dispatch
// state machine. failed -> pending is only taken by a manual re-trigger.
func CanTransition(from, to DispatchState) bool {
	switch from {
	case StatePending:
		return to == StateInProgress
	case StateInProgress:
		return to == StateSucceeded || to == StateFailed
	case StateFailed:
		return to == StatePending
	default:
		return false
	}
}

// DispatchStatus is the observable status of one channel of one contact.
type DispatchStatus struct {
	State     DispatchState `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
	Attempts  int           `json:"attempts"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Outcome is the normalized result of a single dispatch attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Result is what a channel client reports back for one attempt.
type Result struct {
	Outcome   Outcome
	Reason    string
	Retryable bool
}

// Succeeded builds a successful Result.
func Succeeded() Result { return Result{Outcome: OutcomeSucceeded} }

// Failed builds a failed Result.
func Failed(reason string, retryable bool) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason, Retryable: retryable}
}

// Apply returns the terminal status produced by r on top of prev.
func (r Result) Apply(prev DispatchStatus, now time.Time) DispatchStatus {
	next := DispatchStatus{Attempts: prev.Attempts, UpdatedAt: now}
	if r.Outcome == OutcomeSucceeded {
		next.State = StateSucceeded
		return next
	}
	next.State = StateFailed
	next.Reason = r.Reason
	next.Retryable = r.Retryable
	return next
}
