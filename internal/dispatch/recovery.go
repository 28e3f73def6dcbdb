package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/distlock"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

// =============================================================================
// RECOVERY: re-submits stranded pending work, fails abandoned attempts
// =============================================================================
// A channel can be left pending when the pool queue was full or the process
// stopped before the task ran. It can be left in_progress when the process
// died mid-attempt. Recovery fixes both. Abandoned attempts become
// failed(retryable) rather than pending: the side effect may already have
// happened, so only an operator should decide to try again.

const (
	DefaultRecoveryInterval = time.Minute
	DefaultPendingGrace     = 30 * time.Second
	DefaultStaleAfter       = 5 * time.Minute

	// AbandonedReason is recorded on attempts failed by recovery.
	AbandonedReason = "attempt abandoned"

	recoveryLockKey = "dispatch:recovery"
)

// RecoveryConfig tunes the sweep.
type RecoveryConfig struct {
	Interval     time.Duration
	PendingGrace time.Duration
	StaleAfter   time.Duration
	Now          func() time.Time
}

// SweepStats reports what a sweep did.
type SweepStats struct {
	Resubmitted int
	Abandoned   int
	Skipped     bool // another instance held the sweep lock
}

// Recovery periodically repairs stranded dispatch state.
type Recovery struct {
	repo  contact.Repository
	coord *Coordinator
	locks *distlock.Factory
	cfg   RecoveryConfig
	log   *logger.Logger
}

// NewRecovery creates a recovery worker. locks may be nil for a single
// instance. StaleAfter is raised to coord.MinStaleAfter when shorter.
func NewRecovery(repo contact.Repository, coord *Coordinator, locks *distlock.Factory, cfg RecoveryConfig) *Recovery {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRecoveryInterval
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = DefaultPendingGrace
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := logger.With("component", "recovery")
	if floor := coord.MinStaleAfter(); cfg.StaleAfter < floor {
		// A live attempt must never look abandoned.
		log.Warn("stale_after shorter than the longest attempt, raising it",
			"configured", cfg.StaleAfter, "effective", floor)
		cfg.StaleAfter = floor
	}
	return &Recovery{
		repo:  repo,
		coord: coord,
		locks: locks,
		cfg:   cfg,
		log:   log,
	}
}

// Start sweeps once immediately and then every interval. It blocks until
// ctx is cancelled.
func (r *Recovery) Start(ctx context.Context) {
	r.log.Info("recovery starting", "interval", r.cfg.Interval,
		"pending_grace", r.cfg.PendingGrace, "stale_after", r.cfg.StaleAfter)

	r.sweepAndLog(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("recovery stopping")
			return
		case <-ticker.C:
			r.sweepAndLog(ctx)
		}
	}
}

func (r *Recovery) sweepAndLog(ctx context.Context) {
	stats, err := r.Sweep(ctx)
	if err != nil {
		r.log.Error("recovery sweep failed", "error", err)
		return
	}
	if stats.Resubmitted > 0 || stats.Abandoned > 0 {
		r.log.Info("recovery sweep", "resubmitted", stats.Resubmitted, "abandoned", stats.Abandoned)
	}
}

// Sweep runs one recovery pass.
func (r *Recovery) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	if r.locks != nil {
		lock := r.locks.Lock(recoveryLockKey, r.cfg.Interval)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Skipped = true
			return stats, nil
		}
		defer lock.Release(context.Background())
	}

	now := r.cfg.Now().UTC()

	stale, err := r.repo.ListByChannelState(ctx, domain.StateInProgress)
	if err != nil {
		return stats, err
	}
	for _, c := range stale {
		for _, ch := range domain.AllChannels {
			st := c.Status(ch)
			if st.State != domain.StateInProgress || now.Sub(st.UpdatedAt) < r.cfg.StaleAfter {
				continue
			}
			failed := domain.Failed(AbandonedReason, true).Apply(st, now)
			err := r.repo.TransitionChannel(ctx, c.ID, ch, domain.StateInProgress, failed)
			switch {
			case err == nil:
				stats.Abandoned++
				r.log.Warn("attempt abandoned", "id", c.ID, "channel", ch, "attempts", st.Attempts)
			case errors.Is(err, contact.ErrStateConflict):
				// Finished while we looked.
			default:
				return stats, err
			}
		}
	}

	pending, err := r.repo.ListByChannelState(ctx, domain.StatePending)
	if err != nil {
		return stats, err
	}
	for _, c := range pending {
		for _, ch := range domain.AllChannels {
			st := c.Status(ch)
			if st.State != domain.StatePending || now.Sub(st.UpdatedAt) < r.cfg.PendingGrace {
				continue
			}
			r.coord.DispatchChannel(ctx, c.ID, ch)
			stats.Resubmitted++
		}
	}
	return stats, nil
}
