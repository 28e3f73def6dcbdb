package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/media"
	"github.com/ignite/contact-orchestrator/internal/pkg/httputil"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
)

// Handlers contains HTTP handlers for the contact API.
type Handlers struct {
	contacts *contact.Service
	media    media.Store
}

// NewHandlers creates handlers. store may be nil when media is disabled.
func NewHandlers(contacts *contact.Service, store media.Store) *Handlers {
	return &Handlers{contacts: contacts, media: store}
}

// CreateContact ingests a captured contact.
//
//	POST /contact
func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.ErrorCode(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		httputil.BadRequest(w, "could not read request body")
		return
	}

	p, err := contact.ParsePayload(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	c, err := h.contacts.Ingest(r.Context(), p)
	if err != nil {
		if errors.Is(err, contact.ErrInvalidPayload) {
			httputil.BadRequest(w, err.Error())
			return
		}
		if errors.Is(err, contact.ErrMediaUnavailable) {
			httputil.ErrorCode(w, http.StatusBadGateway, "media_unavailable", err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.Created(w, map[string]string{"id": c.ID})
}

// ListContacts returns every contact, newest first.
//
//	GET /contacts
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	all, err := h.contacts.List(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"count":    len(all),
		"contacts": all,
	})
}

// GetContact returns one contact with its channel statuses.
//
//	GET /contact/{id}
func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.contacts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			httputil.NotFound(w, "contact not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

// TriggerChannel re-dispatches one failed channel.
//
//	POST /trigger/{id}/{channel}
func (h *Handlers) TriggerChannel(w http.ResponseWriter, r *http.Request) {
	h.retrigger(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "channel"))
}

// TriggerConnector is the legacy alias for re-triggering the connector.
//
//	POST /api/trigger-linkedin/{id}
func (h *Handlers) TriggerConnector(w http.ResponseWriter, r *http.Request) {
	h.retrigger(w, r, chi.URLParam(r, "id"), string(domain.ChannelConnector))
}

func (h *Handlers) retrigger(w http.ResponseWriter, r *http.Request, id, channel string) {
	st, err := h.contacts.Retrigger(r.Context(), id, channel)
	switch {
	case err == nil:
	case errors.Is(err, contact.ErrUnknownChannel):
		httputil.ErrorCode(w, http.StatusBadRequest, "unknown_channel", err.Error())
		return
	case errors.Is(err, contact.ErrNotFound):
		httputil.NotFound(w, "contact not found")
		return
	case errors.Is(err, contact.ErrInvalidState):
		httputil.Conflict(w, err.Error())
		return
	default:
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]string{
		"id":      id,
		"channel": channel,
		"state":   string(st.State),
	})
}

// GetMedia streams a stored photo or voice memo.
//
//	GET /media/{ref}
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if h.media == nil || !media.ValidRef(ref) {
		httputil.NotFound(w, "media not found")
		return
	}

	rc, err := h.media.Open(r.Context(), ref)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			httputil.NotFound(w, "media not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", media.ContentType(ref))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("media stream interrupted", "ref", ref, "error", err)
	}
}
