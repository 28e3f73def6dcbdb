package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/contact-orchestrator/internal/config"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/httpretry"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
)

// ConnectorClient asks the connector service to send a connection request
// to the contact's professional-network profile.
type ConnectorClient struct {
	baseURL   string
	send      httpretry.HTTPDoer
	probe     httpretry.HTTPDoer
	templates *Templates
	note      string
	log       *logger.Logger
}

// NewConnectorClient creates a connector client. The connector drives a
// browser session, so its timeout is typically long.
func NewConnectorClient(cfg config.ConnectorConfig, templates *Templates) *ConnectorClient {
	note := cfg.NoteTemplate
	if note == "" {
		note = DefaultNoteTemplate
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ConnectorClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		send:      &http.Client{Timeout: timeout},
		probe:     httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2),
		templates: templates,
		note:      note,
		log:       logger.With("channel", string(domain.ChannelConnector)),
	}
}

func (cc *ConnectorClient) Channel() domain.Channel { return domain.ChannelConnector }

type connectionRequest struct {
	ProfileURL string `json:"profile_url"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

type connectionResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Checkpoint bool   `json:"checkpoint"`
	Detail     string `json:"detail"`
}

// Dispatch requests a connection. Security checkpoints are reported as
// retryable failures for an operator to clear and re-trigger by hand.
func (cc *ConnectorClient) Dispatch(ctx context.Context, c domain.Contact) domain.Result {
	if c.ProfileURL == "" {
		return domain.Failed("no profile url", false)
	}
	note, err := cc.templates.Render(cc.note, c)
	if err != nil {
		return domain.Failed(err.Error(), false)
	}

	payload, _ := json.Marshal(connectionRequest{ProfileURL: c.ProfileURL, Name: c.FullName(), Message: note})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.baseURL+"/api/add-connection", bytes.NewReader(payload))
	if err != nil {
		return domain.Failed(fmt.Sprintf("build request: %v", err), false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cc.send.Do(req)
	if err != nil {
		cc.log.Warn("connector request failed", "id", c.ID, "error", err)
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	var parsed connectionResponse
	_ = json.Unmarshal(body, &parsed)
	detail := parsed.Message
	if detail == "" {
		detail = parsed.Detail
	}
	if detail == "" {
		detail = truncate(strings.TrimSpace(string(body)), 200)
	}

	if resp.StatusCode == http.StatusLocked || parsed.Checkpoint || mentionsCheckpoint(detail) {
		cc.log.Warn("connector hit security checkpoint", "id", c.ID, "profile_url", c.ProfileURL)
		return domain.Failed("security checkpoint: "+detail, true)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.Success {
			cc.log.Info("connection requested", "id", c.ID, "profile_url", c.ProfileURL)
			return domain.Succeeded()
		}
		if detail == "" {
			detail = "connector reported failure"
		}
		return domain.Failed(detail, false)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return domain.Failed(fmt.Sprintf("connector unavailable (status %d): %s", resp.StatusCode, detail), true)
	default:
		return domain.Failed(fmt.Sprintf("connector rejected request (status %d): %s", resp.StatusCode, detail), false)
	}
}

func mentionsCheckpoint(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "checkpoint") || strings.Contains(s, "challenge")
}

// Ping checks the connector is reachable.
func (cc *ConnectorClient) Ping(ctx context.Context) error {
	return ping(ctx, cc.probe, cc.baseURL+"/health")
}
