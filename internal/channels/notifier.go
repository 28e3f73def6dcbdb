package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path"

	"github.com/ignite/contact-orchestrator/internal/config"
	"github.com/ignite/contact-orchestrator/internal/domain"
	"github.com/ignite/contact-orchestrator/internal/media"
	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
)

// ErrPermanent marks mailer errors that retrying cannot fix (bad address,
// rejected content).
var ErrPermanent = errors.New("permanent delivery failure")

// EmailMessage is a rendered notification.
type EmailMessage struct {
	FromName    string
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Attachment is an in-memory file attached to an EmailMessage.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Mailer delivers one email. SESMailer and SMTPMailer implement it.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// MediaOpener reads stored media. media.Store satisfies it.
type MediaOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// maxAttachment keeps oversized photos out of outbound mail.
const maxAttachment = 10 << 20

// NotifierClient emails the contact. It is optional and best-effort.
type NotifierClient struct {
	mailer    Mailer
	store     MediaOpener
	templates *Templates
	from      string
	fromName  string
	subject   string
	body      string
	log       *logger.Logger
}

// NewNotifierClient wraps a mailer. store may be nil, in which case photos
// are not attached.
func NewNotifierClient(cfg config.NotifierConfig, mailer Mailer, store MediaOpener, templates *Templates) *NotifierClient {
	subject := cfg.SubjectTemplate
	if subject == "" {
		subject = DefaultSubjectTemplate
	}
	body := cfg.BodyTemplate
	if body == "" {
		body = DefaultEmailTemplate
	}
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "Networking Bot"
	}
	return &NotifierClient{
		mailer:    mailer,
		store:     store,
		templates: templates,
		from:      cfg.From,
		fromName:  fromName,
		subject:   subject,
		body:      body,
		log:       logger.With("channel", string(domain.ChannelNotifier)),
	}
}

func (n *NotifierClient) Channel() domain.Channel { return domain.ChannelNotifier }

// Dispatch emails the first address on the contact, attaching the photo
// when one is stored.
func (n *NotifierClient) Dispatch(ctx context.Context, c domain.Contact) domain.Result {
	if len(c.Emails) == 0 {
		return domain.Failed("no email address", false)
	}
	to, err := mail.ParseAddress(c.Emails[0])
	if err != nil {
		return domain.Failed(fmt.Sprintf("invalid email address: %v", err), false)
	}

	subject, err := n.templates.Render(n.subject, c)
	if err != nil {
		return domain.Failed(err.Error(), false)
	}
	html, err := n.templates.Render(n.body, c)
	if err != nil {
		return domain.Failed(err.Error(), false)
	}

	msg := EmailMessage{
		FromName: n.fromName,
		From:     n.from,
		To:       to.Address,
		Subject:  subject,
		HTML:     html,
	}
	if a, ok := n.photo(ctx, c); ok {
		msg.Attachments = append(msg.Attachments, a)
	}

	if err := n.mailer.Send(ctx, msg); err != nil {
		n.log.Warn("notification failed", "id", c.ID, "email", to.Address, "error", err)
		if errors.Is(err, ErrPermanent) {
			return domain.Failed(err.Error(), false)
		}
		if ctx.Err() != nil {
			return transportFailure(ctx, ctx.Err())
		}
		return domain.Failed(fmt.Sprintf("mail delivery failed: %v", err), true)
	}
	n.log.Info("notification sent", "id", c.ID, "email", to.Address, "attachments", len(msg.Attachments))
	return domain.Succeeded()
}

// photo loads the stored photo. Failures only cost the attachment.
func (n *NotifierClient) photo(ctx context.Context, c domain.Contact) (Attachment, bool) {
	if n.store == nil || c.PhotoRef == "" {
		return Attachment{}, false
	}
	rc, err := n.store.Open(ctx, c.PhotoRef)
	if err != nil {
		n.log.Warn("photo unavailable, sending without it", "id", c.ID, "ref", c.PhotoRef, "error", err)
		return Attachment{}, false
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxAttachment+1))
	if err != nil || len(data) > maxAttachment {
		n.log.Warn("photo unreadable or too large, sending without it", "id", c.ID, "ref", c.PhotoRef)
		return Attachment{}, false
	}
	return Attachment{
		Name:        "photo" + path.Ext(c.PhotoRef),
		ContentType: media.ContentType(c.PhotoRef),
		Data:        data,
	}, true
}
