package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/contact-orchestrator/internal/channels"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/distlock"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

const (
	DefaultStatusWriteTimeout = 10 * time.Second
	DefaultAttemptTimeout     = 3 * time.Minute
)

// Config tunes the coordinator.
type Config struct {
	// StatusWriteTimeout bounds the terminal status write, which runs on a
	// fresh context so caller cancellation cannot strand in_progress.
	StatusWriteTimeout time.Duration
	// AttemptTimeout bounds a single client call.
	AttemptTimeout time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

// Coordinator schedules and runs channel attempts.
type Coordinator struct {
	repo     contact.Repository
	registry *channels.Registry
	pool     *Pool
	locks    *distlock.Factory
	cfg      Config
	log      *logger.Logger
}

// NewCoordinator wires a coordinator. locks may be nil when only one
// instance runs; the store's compare-and-set still prevents duplicate
// attempts.
func NewCoordinator(repo contact.Repository, registry *channels.Registry, pool *Pool, locks *distlock.Factory, cfg Config) *Coordinator {
	if cfg.StatusWriteTimeout <= 0 {
		cfg.StatusWriteTimeout = DefaultStatusWriteTimeout
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		repo:     repo,
		registry: registry,
		pool:     pool,
		locks:    locks,
		cfg:      cfg,
		log:      logger.With("component", "dispatch"),
	}
}

// Dispatch schedules every pending channel of c. It never blocks.
func (co *Coordinator) Dispatch(ctx context.Context, c *domain.Contact) {
	for _, ch := range domain.AllChannels {
		if c.Status(ch).State == domain.StatePending {
			co.DispatchChannel(ctx, c.ID, ch)
		}
	}
}

// DispatchChannel schedules one channel of one contact. When the queue is
// full the channel stays pending and recovery picks it up later.
func (co *Coordinator) DispatchChannel(ctx context.Context, id string, ch domain.Channel) {
	if !co.pool.Submit(func() { co.run(id, ch) }) {
		co.log.Warn("dispatch queue full, leaving channel pending", "id", id, "channel", ch)
	}
}

// lockTTL covers the claim only; the lock is released before the client
// call starts.
func (co *Coordinator) lockTTL() time.Duration {
	return co.cfg.StatusWriteTimeout + 30*time.Second
}

// MinStaleAfter is the shortest in_progress age recovery may treat as
// abandoned without racing a live attempt.
func (co *Coordinator) MinStaleAfter() time.Duration {
	return co.cfg.AttemptTimeout + co.cfg.StatusWriteTimeout + 30*time.Second
}

func (co *Coordinator) run(id string, ch domain.Channel) {
	rec, claim, ok := co.claim(id, ch)
	if !ok {
		return
	}

	result := co.invoke(ch, *rec)
	final := result.Apply(claim, co.cfg.Now().UTC())

	wctx, cancel := context.WithTimeout(context.Background(), co.cfg.StatusWriteTimeout)
	defer cancel()
	if err := co.repo.TransitionChannel(wctx, id, ch, domain.StateInProgress, final); err != nil {
		// Recovery marks the attempt abandoned once it goes stale.
		co.log.Error("record dispatch result", "id", id, "channel", ch, "state", final.State, "error", err)
		return
	}

	if final.State == domain.StateSucceeded {
		co.log.Info("channel succeeded", "id", id, "channel", ch, "attempts", final.Attempts)
	} else {
		co.log.Warn("channel failed", "id", id, "channel", ch, "attempts", final.Attempts,
			"retryable", final.Retryable, "reason", final.Reason)
	}
}

// claim moves ch from pending to in_progress. The dispatch lock and any
// store connection it pins are held only for the read and the
// compare-and-set.
func (co *Coordinator) claim(id string, ch domain.Channel) (*domain.Contact, domain.DispatchStatus, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), co.cfg.StatusWriteTimeout)
	defer cancel()

	if co.locks != nil {
		lock := co.locks.Lock(distlock.DispatchKey(id, string(ch)), co.lockTTL())
		ok, err := lock.Acquire(ctx)
		switch {
		case err != nil:
			// The store CAS below still guarantees a single winner.
			co.log.Warn("dispatch lock unavailable, relying on store", "id", id, "channel", ch, "error", err)
		case !ok:
			co.log.Debug("claim already running elsewhere", "id", id, "channel", ch)
			return nil, domain.DispatchStatus{}, false
		default:
			defer lock.Release(context.Background())
		}
	}

	rec, err := co.repo.Get(ctx, id)
	if err != nil {
		co.log.Error("load contact for dispatch", "id", id, "channel", ch, "error", err)
		return nil, domain.DispatchStatus{}, false
	}
	prev := rec.Status(ch)
	if !domain.CanTransition(prev.State, domain.StateInProgress) {
		return nil, domain.DispatchStatus{}, false
	}

	claim := domain.DispatchStatus{
		State:     domain.StateInProgress,
		Attempts:  prev.Attempts + 1,
		UpdatedAt: co.cfg.Now().UTC(),
	}
	if err := co.repo.TransitionChannel(ctx, id, ch, domain.StatePending, claim); err != nil {
		if errors.Is(err, contact.ErrStateConflict) {
			co.log.Debug("lost claim race", "id", id, "channel", ch, "error", err)
		} else {
			co.log.Error("claim channel", "id", id, "channel", ch, "error", err)
		}
		return nil, domain.DispatchStatus{}, false
	}
	if rec.ChannelStatus == nil {
		rec.ChannelStatus = make(map[domain.Channel]domain.DispatchStatus)
	}
	rec.ChannelStatus[ch] = claim
	return rec, claim, true
}

// invoke calls the client for ch. Whatever happens inside, a Result comes
// back.
func (co *Coordinator) invoke(ch domain.Channel, c domain.Contact) (res domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			co.log.Error("channel client panicked", "id", c.ID, "channel", ch, "panic", r)
			res = domain.Failed(fmt.Sprintf("panic: %v", r), true)
		}
	}()

	client, ok := co.registry.Get(ch)
	if !ok {
		return domain.Failed("channel not configured", false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), co.cfg.AttemptTimeout)
	defer cancel()
	res = client.Dispatch(ctx, c)
	if res.Outcome != domain.OutcomeSucceeded && res.Outcome != domain.OutcomeFailed {
		return domain.Failed(fmt.Sprintf("client returned unknown outcome %q", res.Outcome), true)
	}
	if res.Outcome == domain.OutcomeFailed && res.Reason == "" {
		res.Reason = "unspecified failure"
	}
	return res
}

// Stats exposes pool counters for the health endpoint.
func (co *Coordinator) Stats() PoolStats { return co.pool.Stats() }
