package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-orchestrator/internal/channels"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/distlock"
	"github.com/ignite/contact-orchestrator/internal/repository/memory"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
	"github.com/ignite/contact-orchestrator/internal/service/contact/contacttest"
)

type fakeClient struct {
	ch    domain.Channel
	calls int32
	fn    func(ctx context.Context, c domain.Contact) domain.Result
}

func (f *fakeClient) Channel() domain.Channel { return f.ch }

func (f *fakeClient) Dispatch(ctx context.Context, c domain.Contact) domain.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.fn == nil {
		return domain.Succeeded()
	}
	return f.fn(ctx, c)
}

func (f *fakeClient) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

type harness struct {
	repo  *memory.ContactRepo
	pool  *Pool
	coord *Coordinator
	locks *distlock.Factory
}

func newHarness(t *testing.T, locks *distlock.Factory, clients ...channels.Client) *harness {
	t.Helper()
	repo := memory.NewContactRepo()
	pool := NewPool(4, 64)
	pool.Start()
	t.Cleanup(pool.Stop)
	coord := NewCoordinator(repo, channels.NewRegistry(clients...), pool, locks, Config{
		StatusWriteTimeout: time.Second,
		AttemptTimeout:     5 * time.Second,
	})
	return &harness{repo: repo, pool: pool, coord: coord, locks: locks}
}

func (h *harness) seed(t *testing.T, c *domain.Contact) {
	t.Helper()
	require.NoError(t, h.repo.Create(context.Background(), c))
}

func (h *harness) waitState(t *testing.T, id string, ch domain.Channel, want domain.DispatchState) domain.DispatchStatus {
	t.Helper()
	var st domain.DispatchStatus
	require.Eventually(t, func() bool {
		c, err := h.repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		st = c.Status(ch)
		return st.State == want
	}, 2*time.Second, 5*time.Millisecond, "channel %s never reached %s", ch, want)
	return st
}

func TestCoordinator_DispatchesChannelsIndependently(t *testing.T) {
	messaging := &fakeClient{ch: domain.ChannelMessaging}
	connector := &fakeClient{ch: domain.ChannelConnector, fn: func(context.Context, domain.Contact) domain.Result {
		return domain.Failed("connector returned 503", true)
	}}
	h := newHarness(t, nil, messaging, connector)

	c := contacttest.NewContact(time.Now(), "d15p0001")
	h.seed(t, c)
	h.coord.Dispatch(context.Background(), c)

	ms := h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
	cs := h.waitState(t, c.ID, domain.ChannelConnector, domain.StateFailed)

	assert.Equal(t, 1, ms.Attempts)
	assert.Equal(t, 1, cs.Attempts)
	assert.True(t, cs.Retryable)
	assert.Equal(t, "connector returned 503", cs.Reason)

	got, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNotApplicable, got.Status(domain.ChannelNotifier).State)
}

func TestCoordinator_ClientReceivesContactFields(t *testing.T) {
	var seen atomic.Value
	messaging := &fakeClient{ch: domain.ChannelMessaging, fn: func(_ context.Context, c domain.Contact) domain.Result {
		seen.Store(c)
		return domain.Succeeded()
	}}
	h := newHarness(t, nil, messaging)

	c := contacttest.NewContact(time.Now(), "d15p0002")
	h.seed(t, c)
	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)
	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)

	got := seen.Load().(domain.Contact)
	assert.Equal(t, "John", got.FirstName)
	assert.Equal(t, []string{"+1234567890"}, got.PhoneNumbers)
	assert.Equal(t, domain.StateInProgress, got.Status(domain.ChannelMessaging).State)
}

func TestCoordinator_PanicBecomesRetryableFailure(t *testing.T) {
	messaging := &fakeClient{ch: domain.ChannelMessaging, fn: func(context.Context, domain.Contact) domain.Result {
		panic("boom")
	}}
	h := newHarness(t, nil, messaging)

	c := contacttest.NewContact(time.Now(), "d15p0003")
	h.seed(t, c)
	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)

	st := h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateFailed)
	assert.True(t, st.Retryable)
	assert.Contains(t, st.Reason, "boom")
	assert.Equal(t, int64(0), h.pool.Stats().Panicked)
}

func TestCoordinator_UnconfiguredChannelFails(t *testing.T) {
	h := newHarness(t, nil)

	c := contacttest.NewContact(time.Now(), "d15p0004")
	h.seed(t, c)
	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelConnector)

	st := h.waitState(t, c.ID, domain.ChannelConnector, domain.StateFailed)
	assert.False(t, st.Retryable)
	assert.Equal(t, "channel not configured", st.Reason)
}

func TestCoordinator_ConcurrentSchedulingRunsOneAttempt(t *testing.T) {
	release := make(chan struct{})
	messaging := &fakeClient{ch: domain.ChannelMessaging, fn: func(context.Context, domain.Contact) domain.Result {
		<-release
		return domain.Succeeded()
	}}
	h := newHarness(t, distlock.NewFactory(nil, nil), messaging)

	c := contacttest.NewContact(time.Now(), "d15p0005")
	h.seed(t, c)
	for i := 0; i < 10; i++ {
		h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)
	}
	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateInProgress)
	close(release)

	st := h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
	require.Eventually(t, func() bool { return h.pool.Stats().Completed == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, messaging.Calls())
	assert.Equal(t, 1, st.Attempts)
}

func TestCoordinator_IgnoresCallerCancellation(t *testing.T) {
	messaging := &fakeClient{ch: domain.ChannelMessaging, fn: func(ctx context.Context, _ domain.Contact) domain.Result {
		if ctx.Err() != nil {
			return domain.Failed("cancelled", true)
		}
		return domain.Succeeded()
	}}
	h := newHarness(t, nil, messaging)

	c := contacttest.NewContact(time.Now(), "d15p0006")
	h.seed(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.coord.Dispatch(ctx, c)

	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
}

func TestCoordinator_SkipsWhenLockHeldElsewhere(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	messaging := &fakeClient{ch: domain.ChannelMessaging}
	h := newHarness(t, distlock.NewFactory(client, nil), messaging)

	c := contacttest.NewContact(time.Now(), "d15p0007")
	h.seed(t, c)
	require.NoError(t, mr.Set("lock:"+distlock.DispatchKey(c.ID, string(domain.ChannelMessaging)), "other-instance"))

	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)
	require.Eventually(t, func() bool { return h.pool.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)

	got, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, got.Status(domain.ChannelMessaging).State)
	assert.Equal(t, 0, messaging.Calls())

	mr.Del("lock:" + distlock.DispatchKey(c.ID, string(domain.ChannelMessaging)))
	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)
	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
	require.Eventually(t, func() bool {
		return !mr.Exists("lock:" + distlock.DispatchKey(c.ID, string(domain.ChannelMessaging)))
	}, 2*time.Second, 5*time.Millisecond, "lock must be released after the attempt")
}

func TestCoordinator_NonPendingChannelIsNotAttempted(t *testing.T) {
	messaging := &fakeClient{ch: domain.ChannelMessaging}
	h := newHarness(t, nil, messaging)

	c := contacttest.NewContact(time.Now(), "d15p0008")
	c.ChannelStatus[domain.ChannelMessaging] = domain.DispatchStatus{State: domain.StateSucceeded, Attempts: 1}
	h.seed(t, c)

	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)
	require.Eventually(t, func() bool { return h.pool.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, messaging.Calls())
}

func TestCoordinator_SlowChannelDoesNotHoldOthers(t *testing.T) {
	release := make(chan struct{})
	messaging := &fakeClient{ch: domain.ChannelMessaging}
	connector := &fakeClient{ch: domain.ChannelConnector, fn: func(context.Context, domain.Contact) domain.Result {
		<-release
		return domain.Succeeded()
	}}
	h := newHarness(t, distlock.NewFactory(nil, nil), messaging, connector)

	c := contacttest.NewContact(time.Now(), "d15p0009")
	h.seed(t, c)
	h.coord.Dispatch(context.Background(), c)

	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
	got, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, got.Status(domain.ChannelConnector).State)

	close(release)
	h.waitState(t, c.ID, domain.ChannelConnector, domain.StateSucceeded)
}

func TestCoordinator_ReleasesLockBeforeClientCall(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	release := make(chan struct{})
	messaging := &fakeClient{ch: domain.ChannelMessaging, fn: func(context.Context, domain.Contact) domain.Result {
		<-release
		return domain.Succeeded()
	}}
	h := newHarness(t, distlock.NewFactory(client, nil), messaging)

	c := contacttest.NewContact(time.Now(), "d15p0010")
	h.seed(t, c)
	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)
	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateInProgress)

	key := "lock:" + distlock.DispatchKey(c.ID, string(domain.ChannelMessaging))
	require.Eventually(t, func() bool { return !mr.Exists(key) }, 2*time.Second, 5*time.Millisecond,
		"lock must not be held while the client runs")
	assert.Equal(t, 1, messaging.Calls())

	close(release)
	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
}

func TestCoordinator_RetriggerRunsFailedChannelAgain(t *testing.T) {
	messaging := &fakeClient{ch: domain.ChannelMessaging}
	messaging.fn = func(context.Context, domain.Contact) domain.Result {
		if messaging.Calls() == 1 {
			return domain.Failed("bridge returned 503", true)
		}
		return domain.Succeeded()
	}
	connector := &fakeClient{ch: domain.ChannelConnector}
	h := newHarness(t, distlock.NewFactory(nil, nil), messaging, connector)
	svc := contact.NewService(h.repo, h.coord, nil, contact.Options{})

	c := contacttest.NewContact(time.Now(), "d15p0011")
	h.seed(t, c)
	h.coord.Dispatch(context.Background(), c)

	failed := h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateFailed)
	assert.Equal(t, 1, failed.Attempts)
	h.waitState(t, c.ID, domain.ChannelConnector, domain.StateSucceeded)

	st, err := svc.Retrigger(context.Background(), c.ID, string(domain.ChannelMessaging))
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, st.State)

	done := h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
	assert.Equal(t, 2, done.Attempts)
	assert.Empty(t, done.Reason)
	assert.Equal(t, 2, messaging.Calls())
	assert.Equal(t, 1, connector.Calls())
}

func TestCoordinator_AdvisoryLockFreedBeforeClientCall(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	seen := make(chan error, 1)
	messaging := &fakeClient{ch: domain.ChannelMessaging, fn: func(context.Context, domain.Contact) domain.Result {
		seen <- mock.ExpectationsWereMet()
		return domain.Succeeded()
	}}
	h := newHarness(t, distlock.NewFactory(nil, db), messaging)

	c := contacttest.NewContact(time.Now(), "d15p0012")
	h.seed(t, c)
	h.coord.DispatchChannel(context.Background(), c.ID, domain.ChannelMessaging)

	h.waitState(t, c.ID, domain.ChannelMessaging, domain.StateSucceeded)
	assert.NoError(t, <-seen, "advisory lock must be released before the client runs")
	assert.Equal(t, 0, db.Stats().InUse)
}
