package channels

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/contact-orchestrator/internal/domain"
)

// Default message templates. Variables: first_name, last_name, full_name,
// email, phone, profile_url.
const (
	DefaultGreetingTemplate = `Hi {{ first_name | default: "there" }}! Great meeting you today. Let's stay in touch.`
	DefaultNoteTemplate     = `Hi {{ first_name | default: "there" }}! Great meeting you. I'd like to connect on LinkedIn.`
	DefaultSubjectTemplate  = `Great meeting you{% if first_name != "" %}, {{ first_name }}{% endif %}!`
	DefaultEmailTemplate    = `<html>
<body>
<p>Hi {{ first_name | default: "there" }},</p>

<p>It was great meeting you!</p>

<p>I wanted to reach out and stay connected. Feel free to reach out if you'd like to grab coffee or discuss potential collaborations.</p>

<p>Best regards,<br>
Your new connection</p>
</body>
</html>`
)

// Templates renders Liquid templates against a contact, caching parsed
// templates by source.
type Templates struct {
	engine *liquid.Engine
	mu     sync.RWMutex
	cache  map[string]*liquid.Template
}

// NewTemplates creates a renderer with the contact filters registered.
func NewTemplates() *Templates {
	engine := liquid.NewEngine()

	// Treat blank strings as missing: {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &Templates{engine: engine, cache: make(map[string]*liquid.Template)}
}

// Validate parses src without rendering. Used at start-up so a broken
// configured template fails fast instead of failing every dispatch.
func (t *Templates) Validate(src string) error {
	_, err := t.parse(src)
	return err
}

func (t *Templates) parse(src string) (*liquid.Template, error) {
	t.mu.RLock()
	tpl, ok := t.cache[src]
	t.mu.RUnlock()
	if ok {
		return tpl, nil
	}
	tpl, perr := t.engine.ParseString(src)
	if perr != nil {
		return nil, fmt.Errorf("parse template: %w", perr)
	}
	t.mu.Lock()
	t.cache[src] = tpl
	t.mu.Unlock()
	return tpl, nil
}

// Render evaluates src for c.
func (t *Templates) Render(src string, c domain.Contact) (string, error) {
	tpl, err := t.parse(src)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(bindings(c))
	if rerr != nil {
		return "", fmt.Errorf("render template: %w", rerr)
	}
	return out, nil
}

func bindings(c domain.Contact) map[string]interface{} {
	b := map[string]interface{}{
		"first_name":  c.FirstName,
		"last_name":   c.LastName,
		"full_name":   c.FullName(),
		"profile_url": c.ProfileURL,
		"email":       "",
		"phone":       "",
	}
	if len(c.Emails) > 0 {
		b["email"] = c.Emails[0]
	}
	if len(c.PhoneNumbers) > 0 {
		b["phone"] = c.PhoneNumbers[0]
	}
	return b
}
