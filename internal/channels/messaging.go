package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/contact-orchestrator/internal/config"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/pkg/httpretry"
	"github.com/ignite/contact-orchestrator/internal/pkg/httputil"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
)

// MessagingClient sends the greeting through the messaging bridge.
type MessagingClient struct {
	baseURL   string
	send      httpretry.HTTPDoer // single attempt; sends are not idempotent
	fetch     httpretry.HTTPDoer // retried; downloads and probes are
	templates *Templates
	greeting  string
	maxMedia  int64
	log       *logger.Logger
}

// NewMessagingClient creates a bridge client.
func NewMessagingClient(cfg config.MessagingConfig, templates *Templates) *MessagingClient {
	greeting := cfg.GreetingTemplate
	if greeting == "" {
		greeting = DefaultGreetingTemplate
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MessagingClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		send:      &http.Client{Timeout: timeout},
		fetch:     httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
		templates: templates,
		greeting:  greeting,
		maxMedia:  httputil.MaxBodyBytes,
		log:       logger.With("channel", string(domain.ChannelMessaging)),
	}
}

func (m *MessagingClient) Channel() domain.Channel { return domain.ChannelMessaging }

type sendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type sendResponse struct {
	Success   *bool  `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// Dispatch sends the rendered greeting to the contact's first phone number.
func (m *MessagingClient) Dispatch(ctx context.Context, c domain.Contact) domain.Result {
	if len(c.PhoneNumbers) == 0 {
		return domain.Failed("no phone number", false)
	}
	recipient := NormalizePhone(c.PhoneNumbers[0])
	if recipient == "" {
		return domain.Failed("invalid phone number", false)
	}
	message, err := m.templates.Render(m.greeting, c)
	if err != nil {
		return domain.Failed(err.Error(), false)
	}

	payload, _ := json.Marshal(sendRequest{Recipient: recipient, Message: message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/send", bytes.NewReader(payload))
	if err != nil {
		return domain.Failed(fmt.Sprintf("build request: %v", err), false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.send.Do(req)
	if err != nil {
		m.log.Warn("bridge request failed", "id", c.ID, "recipient", recipient, "error", err)
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()
	body := readBody(resp)

	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)
	detail := parsed.Error
	if detail == "" {
		detail = parsed.Message
	}
	if detail == "" {
		detail = truncate(strings.TrimSpace(string(body)), 200)
	}

	if parsed.ErrorCode == "invalid_number" {
		return domain.Failed("invalid number: "+detail, false)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.Success != nil && !*parsed.Success {
			return domain.Failed("bridge reported failure: "+detail, false)
		}
		m.log.Info("greeting sent", "id", c.ID, "recipient", recipient)
		return domain.Succeeded()
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.Failed(fmt.Sprintf("bridge rejected message (status %d): %s", resp.StatusCode, detail), false)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return domain.Failed(fmt.Sprintf("bridge unavailable (status %d): %s", resp.StatusCode, detail), true)
	default:
		return domain.Failed(fmt.Sprintf("unexpected bridge status %d: %s", resp.StatusCode, detail), false)
	}
}

// DownloadMedia fetches a media item the bridge received, returning the
// bytes and content type.
func (m *MessagingClient) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.baseURL+"/api/download/"+url.PathEscape(mediaID), nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := m.fetch.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("bridge download error (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxMedia+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading response: %w", err)
	}
	if int64(len(data)) > m.maxMedia {
		return nil, "", fmt.Errorf("media %s exceeds %d bytes", mediaID, m.maxMedia)
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return data, ct, nil
}

// Ping checks the bridge is reachable. Any non-5xx answer counts as up.
func (m *MessagingClient) Ping(ctx context.Context) error {
	return ping(ctx, m.fetch, m.baseURL+"/health")
}

func ping(ctx context.Context, doer httpretry.HTTPDoer, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := doer.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// NormalizePhone strips formatting, keeping digits and a leading plus.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
