package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-orchestrator/internal/channels"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/media"
	"github.com/ignite/contact-orchestrator/internal/repository/memory"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
	"github.com/ignite/contact-orchestrator/internal/service/contact/contacttest"
)

// recordingDispatcher captures dispatch requests without running them.
type recordingDispatcher struct {
	mu       sync.Mutex
	contacts []string
	channels []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, c *domain.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = append(d.contacts, c.ID)
}

func (d *recordingDispatcher) DispatchChannel(_ context.Context, id string, ch domain.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, id+"/"+string(ch))
}

func (d *recordingDispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.channels...)
}

type pingClient struct {
	ch  domain.Channel
	err error
}

func (p *pingClient) Channel() domain.Channel { return p.ch }
func (p *pingClient) Dispatch(context.Context, domain.Contact) domain.Result {
	return domain.Succeeded()
}
func (p *pingClient) Ping(context.Context) error { return p.err }

type testEnv struct {
	router     http.Handler
	repo       *memory.ContactRepo
	dispatcher *recordingDispatcher
	health     *HealthChecker
}

func setupTestHandlers(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewContactRepo()
	d := &recordingDispatcher{}
	store, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	svc := contact.NewService(repo, d, store, contact.Options{
		ProfilePattern: regexp.MustCompile(`(?i)^https?://[^/\s]+/in/[^/?#\s]+/?$`),
	})
	registry := channels.NewRegistry(&pingClient{ch: domain.ChannelMessaging})
	hc := NewHealthChecker(registry, nil)

	return &testEnv{
		router:     SetupRoutes(NewHandlers(svc, store), hc),
		repo:       repo,
		dispatcher: d,
		health:     hc,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestCreateContact(t *testing.T) {
	env := setupTestHandlers(t)

	rr := env.do(t, http.MethodPost, "/contact",
		`{"firstName":"John","lastName":"Doe","phoneNumbers":["+1234567890"],"urls":["https://www.linkedin.com/in/johndoe/"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	id, _ := decodeBody(t, rr)["id"].(string)
	require.NotEmpty(t, id)

	c, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, c.Status(domain.ChannelMessaging).State)
	assert.Equal(t, domain.StatePending, c.Status(domain.ChannelConnector).State)
	assert.Equal(t, domain.StateNotApplicable, c.Status(domain.ChannelNotifier).State)
}

func TestCreateContact_APIAliasAndSnakeCase(t *testing.T) {
	env := setupTestHandlers(t)

	rr := env.do(t, http.MethodPost, "/api/contact", `{"first_name":"Jane","emails":"jane@example.com"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	id := decodeBody(t, rr)["id"].(string)
	c, err := env.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Jane", c.FirstName)
	assert.Equal(t, []string{"jane@example.com"}, c.Emails)
}

func TestCreateContact_Invalid(t *testing.T) {
	env := setupTestHandlers(t)

	for name, body := range map[string]string{
		"missing name":       `{"phoneNumbers":["+1234567890"]}`,
		"malformed json":     `{"firstName":`,
		"non-string element": `{"firstName":"John","phoneNumbers":[1]}`,
		"bad photo":          `{"firstName":"John","photo":"%%%"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/contact", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "invalid_payload", decodeBody(t, rr)["code"])
		})
	}

	all, err := env.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListContacts(t *testing.T) {
	env := setupTestHandlers(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := contacttest.NewContact(base, "aaaa0001")
	newer := contacttest.NewContact(base.Add(time.Minute), "aaaa0002")
	require.NoError(t, env.repo.Create(context.Background(), older))
	require.NoError(t, env.repo.Create(context.Background(), newer))

	for _, path := range []string{"/contacts", "/api/contacts"} {
		rr := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Count    int              `json:"count"`
			Contacts []domain.Contact `json:"contacts"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		require.Len(t, resp.Contacts, 2)
		assert.Equal(t, newer.ID, resp.Contacts[0].ID)
		assert.Equal(t, older.ID, resp.Contacts[1].ID)
	}
}

func TestGetContact(t *testing.T) {
	env := setupTestHandlers(t)
	c := contacttest.NewContact(time.Now(), "bbbb0001")
	require.NoError(t, env.repo.Create(context.Background(), c))

	rr := env.do(t, http.MethodGet, "/contact/"+c.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, c.ID, body["id"])
	statuses := body["channelStatus"].(map[string]interface{})
	assert.Equal(t, "pending", statuses["messaging"].(map[string]interface{})["state"])

	rr = env.do(t, http.MethodGet, "/api/contact/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTriggerChannel(t *testing.T) {
	env := setupTestHandlers(t)
	c := contacttest.NewContact(time.Now(), "cccc0001")
	c.ChannelStatus[domain.ChannelConnector] = domain.DispatchStatus{
		State: domain.StateFailed, Reason: "security checkpoint: verify", Retryable: true, Attempts: 1,
	}
	require.NoError(t, env.repo.Create(context.Background(), c))

	rr := env.do(t, http.MethodPost, "/trigger/"+c.ID+"/connector", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, c.ID, body["id"])
	assert.Equal(t, "connector", body["channel"])
	assert.Equal(t, "pending", body["state"])
	assert.Equal(t, []string{c.ID + "/connector"}, env.dispatcher.Channels())

	// Now pending, so a second trigger conflicts.
	rr = env.do(t, http.MethodPost, "/trigger/"+c.ID+"/connector", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rr)["code"])
}

func TestTriggerChannel_Errors(t *testing.T) {
	env := setupTestHandlers(t)
	c := contacttest.NewContact(time.Now(), "cccc0002")
	require.NoError(t, env.repo.Create(context.Background(), c))

	rr := env.do(t, http.MethodPost, "/trigger/"+c.ID+"/carrier-pigeon", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/trigger/missing/messaging", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/trigger/"+c.ID+"/notifier", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	assert.Empty(t, env.dispatcher.Channels())
}

func TestTriggerConnectorAlias(t *testing.T) {
	env := setupTestHandlers(t)
	c := contacttest.NewContact(time.Now(), "cccc0003")
	c.ChannelStatus[domain.ChannelConnector] = domain.DispatchStatus{State: domain.StateFailed, Attempts: 1}
	require.NoError(t, env.repo.Create(context.Background(), c))

	rr := env.do(t, http.MethodPost, "/api/trigger-linkedin/"+c.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "connector", decodeBody(t, rr)["channel"])
}

func TestMediaRoundTrip(t *testing.T) {
	env := setupTestHandlers(t)
	photo := base64.StdEncoding.EncodeToString([]byte("not really a jpeg"))

	rr := env.do(t, http.MethodPost, "/contact", `{"firstName":"John","photo":"`+photo+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	c, err := env.repo.Get(context.Background(), decodeBody(t, rr)["id"].(string))
	require.NoError(t, err)
	require.NotEmpty(t, c.PhotoRef)

	rr = env.do(t, http.MethodGet, "/media/"+c.PhotoRef, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "not really a jpeg", rr.Body.String())

	rr = env.do(t, http.MethodGet, "/media/unknown.bin", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/media/..secret", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateContact_BodyTooLarge(t *testing.T) {
	env := setupTestHandlers(t)
	huge := bytes.Repeat([]byte("a"), 26<<20)
	req := httptest.NewRequest(http.MethodPost, "/contact", bytes.NewReader(huge))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := setupTestHandlers(t)
	env.health.AddCheck("store", true, func(context.Context) error { return nil })
	env.health.AddCheck("redis", false, func(context.Context) error { return errors.New("connection refused") })

	rr := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	live := decodeBody(t, rr)
	assert.Equal(t, "ok", live["status"])
	assert.Equal(t, []interface{}{"messaging"}, live["channels"])

	rr = env.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Contains(t, checks, "channel:messaging")
	assert.Equal(t, "down", checks["redis"].(map[string]interface{})["status"])
}

func TestReadiness_CriticalDown(t *testing.T) {
	env := setupTestHandlers(t)
	env.health.AddCheck("store", true, func(context.Context) error { return errors.New("db gone") })

	rr := env.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, false, decodeBody(t, rr)["ready"])
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	env := setupTestHandlers(t)
	req := httptest.NewRequest(http.MethodOptions, "/contact", nil)
	req.Header.Set("Origin", "https://capture.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
