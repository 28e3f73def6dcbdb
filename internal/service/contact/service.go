package contact

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
)

// Options configures eligibility evaluation.
type Options struct {
	// ProfilePattern selects professional-network profile URLs.
	ProfilePattern *regexp.Regexp
	// Enabled reports whether a channel has a configured client. A nil
	// func treats every channel as configured.
	Enabled func(domain.Channel) bool
	// Fetcher resolves photoMediaId/audioMediaId. Nil rejects such
	// payloads.
	Fetcher MediaFetcher
	// Now is overridable for tests.
	Now func() time.Time
}

// Service implements intake and query logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	media      MediaStore
	opts       Options
	log        *logger.Logger
}

// NewService creates a contact service. media may be nil, in which case
// payloads carrying photo or audio are rejected.
func NewService(repo Repository, dispatcher Dispatcher, media MediaStore, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		media:      media,
		opts:       opts,
		log:        logger.With("component", "contact"),
	}
}

// Ingest validates and persists a contact, then schedules dispatch.
// The returned record reflects the initial channel statuses.
func (s *Service) Ingest(ctx context.Context, p Payload) (*domain.Contact, error) {
	first := strings.TrimSpace(p.FirstName)
	last := strings.TrimSpace(p.LastName)
	if first == "" && last == "" {
		return nil, fmt.Errorf("%w: first or last name is required", ErrInvalidPayload)
	}

	photo, err := decodeMedia("photo", p.Photo)
	if err != nil {
		return nil, err
	}
	audio, err := decodeMedia("audio", p.Audio)
	if err != nil {
		return nil, err
	}
	if photo == nil && strings.TrimSpace(p.PhotoMediaID) != "" {
		if photo, err = s.fetchMedia(ctx, "photo", p.PhotoMediaID); err != nil {
			return nil, err
		}
	}
	if audio == nil && strings.TrimSpace(p.AudioMediaID) != "" {
		if audio, err = s.fetchMedia(ctx, "audio", p.AudioMediaID); err != nil {
			return nil, err
		}
	}
	if (photo != nil || audio != nil) && s.media == nil {
		return nil, fmt.Errorf("%w: media uploads are not enabled", ErrInvalidPayload)
	}

	now := s.opts.Now().UTC()
	c := &domain.Contact{
		ID:           domain.NewContactID(now, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		FirstName:    first,
		LastName:     last,
		PhoneNumbers: normalizeList(p.PhoneNumbers),
		Emails:       normalizeList(p.Emails),
		URLs:         normalizeList(p.URLs),
		CreatedAt:    now,
	}

	if photo != nil {
		if c.PhotoRef, err = s.media.Put(ctx, c.ID+"-photo", photo); err != nil {
			return nil, fmt.Errorf("store photo: %w", err)
		}
	}
	if audio != nil {
		if c.AudioRef, err = s.media.Put(ctx, c.ID+"-audio", audio); err != nil {
			s.discardMedia(ctx, c)
			return nil, fmt.Errorf("store audio: %w", err)
		}
	}

	elig := domain.ComputeEligibility(c.PhoneNumbers, c.Emails, c.URLs, s.opts.ProfilePattern)
	c.ProfileURL = elig.ProfileURL
	if !s.enabled(domain.ChannelMessaging) {
		elig.Messaging = false
	}
	if !s.enabled(domain.ChannelConnector) {
		elig.Connector = false
	}
	if !s.enabled(domain.ChannelNotifier) {
		elig.Notifier = false
	}
	c.ChannelStatus = elig.InitialStatus(now)

	if err := s.repo.Create(ctx, c); err != nil {
		s.discardMedia(ctx, c)
		return nil, fmt.Errorf("persist contact: %w", err)
	}

	s.log.Info("contact ingested", "id", c.ID,
		"messaging", c.Status(domain.ChannelMessaging).State,
		"connector", c.Status(domain.ChannelConnector).State,
		"notifier", c.Status(domain.ChannelNotifier).State)

	s.dispatchAsync(c.Clone())
	return c, nil
}

// discardMedia removes blobs stored for a contact that was never persisted.
func (s *Service) discardMedia(ctx context.Context, c *domain.Contact) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range []string{c.PhotoRef, c.AudioRef} {
		if ref == "" {
			continue
		}
		if err := s.media.Delete(ctx, ref); err != nil {
			s.log.Warn("orphaned media blob", "id", c.ID, "ref", ref, "error", err)
		}
	}
}

func (s *Service) fetchMedia(ctx context.Context, field, id string) ([]byte, error) {
	if s.opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: %s media references are not supported", ErrInvalidPayload, field)
	}
	data, _, err := s.opts.Fetcher.DownloadMedia(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrMediaUnavailable, field, id, err)
	}
	return data, nil
}

func (s *Service) enabled(ch domain.Channel) bool {
	return s.opts.Enabled == nil || s.opts.Enabled(ch)
}

// dispatchAsync hands the record to the dispatcher off the request path.
// A failing dispatcher leaves channels pending for recovery.
func (s *Service) dispatchAsync(c *domain.Contact) {
	if s.dispatcher == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("dispatch scheduling panicked", "id", c.ID, "panic", r)
			}
		}()
		s.dispatcher.Dispatch(context.Background(), c)
	}()
}

// List returns all contacts, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Contact, error) {
	return s.repo.List(ctx)
}

// Get returns a single contact.
func (s *Service) Get(ctx context.Context, id string) (*domain.Contact, error) {
	return s.repo.Get(ctx, id)
}

// Retrigger moves a failed channel back to pending and schedules exactly
// that channel. Only failed channels can be re-triggered.
func (s *Service) Retrigger(ctx context.Context, id, channel string) (domain.DispatchStatus, error) {
	ch, err := domain.ParseChannel(channel)
	if err != nil {
		return domain.DispatchStatus{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.DispatchStatus{}, err
	}

	cur := c.Status(ch)
	if !domain.CanTransition(cur.State, domain.StatePending) {
		return cur, fmt.Errorf("%w: %s is %s", ErrInvalidState, ch, cur.State)
	}

	next := domain.DispatchStatus{
		State:     domain.StatePending,
		Attempts:  cur.Attempts,
		UpdatedAt: s.opts.Now().UTC(),
	}
	if err := s.repo.TransitionChannel(ctx, id, ch, domain.StateFailed, next); err != nil {
		var conflict *StateConflictError
		if errors.As(err, &conflict) {
			return domain.DispatchStatus{State: conflict.Current},
				fmt.Errorf("%w: %s is %s", ErrInvalidState, ch, conflict.Current)
		}
		return domain.DispatchStatus{}, fmt.Errorf("re-trigger %s: %w", ch, err)
	}

	s.log.Info("channel re-triggered", "id", id, "channel", ch, "attempts", cur.Attempts)
	if s.dispatcher != nil {
		s.dispatcher.DispatchChannel(context.Background(), id, ch)
	}
	return next, nil
}
