package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"

	"github.com/ignite/contact-orchestrator/internal/domain"
)

// Client performs one dispatch attempt on a single channel.
type Client interface {
	Channel() domain.Channel
	// Dispatch must always return; transport failures and timeouts become
	// retryable failures.
	Dispatch(ctx context.Context, c domain.Contact) domain.Result
}

// Pinger is implemented by clients whose collaborator can be probed for
// readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registry maps channels to their configured clients.
type Registry struct {
	clients map[domain.Channel]Client
}

// NewRegistry registers clients by their Channel(). Nil clients are ignored
// so optional channels can be passed unconditionally.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[domain.Channel]Client)}
	for _, c := range clients {
		if c != nil {
			r.clients[c.Channel()] = c
		}
	}
	return r
}

// Get returns the client for ch.
func (r *Registry) Get(ch domain.Channel) (Client, bool) {
	c, ok := r.clients[ch]
	return c, ok
}

// Has reports whether ch has a configured client.
func (r *Registry) Has(ch domain.Channel) bool {
	_, ok := r.clients[ch]
	return ok
}

// Channels lists the configured channels in name order.
func (r *Registry) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.clients))
	for ch := range r.clients {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ping probes every client that supports it. The map holds nil for healthy
// collaborators.
func (r *Registry) Ping(ctx context.Context) map[domain.Channel]error {
	out := make(map[domain.Channel]error)
	for ch, c := range r.clients {
		if p, ok := c.(Pinger); ok {
			out[ch] = p.Ping(ctx)
		}
	}
	return out
}

// transportFailure classifies an error from http.Client.Do. Everything
// here is transient from the orchestrator's point of view.
func transportFailure(ctx context.Context, err error) domain.Result {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return domain.Failed("timeout waiting for collaborator", true)
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.Failed("timeout waiting for collaborator", true)
	case errors.Is(err, context.Canceled):
		return domain.Failed("attempt cancelled", true)
	default:
		return domain.Failed(fmt.Sprintf("network error: %v", err), true)
	}
}

// maxResponseBody bounds how much of a collaborator response we read.
const maxResponseBody = 64 << 10

func readBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
