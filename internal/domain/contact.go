package domain

import (
	"regexp"
	"strings"
	"time"
)

// contactIDLayout is fixed-width so that ids sort lexicographically in
// createdAt order.
const contactIDLayout = "20060102T150405.000000000Z"

// Contact is a single captured contact and its per-channel dispatch status.
type Contact struct {
	ID            string                     `json:"id"`
	FirstName     string                     `json:"firstName"`
	LastName      string                     `json:"lastName"`
	PhoneNumbers  []string                   `json:"phoneNumbers"`
	Emails        []string                   `json:"emails"`
	URLs          []string                   `json:"urls"`
	ProfileURL    string                     `json:"profileUrl,omitempty"`
	PhotoRef      string                     `json:"photoRef,omitempty"`
	AudioRef      string                     `json:"audioRef,omitempty"`
	CreatedAt     time.Time                  `json:"createdAt"`
	ChannelStatus map[Channel]DispatchStatus `json:"channelStatus"`
}

// FullName joins the non-empty name parts.
func (c *Contact) FullName() string {
	return strings.TrimSpace(strings.Join([]string{c.FirstName, c.LastName}, " "))
}

// Status returns the status of ch, defaulting to not applicable.
func (c *Contact) Status(ch Channel) DispatchStatus {
	if st, ok := c.ChannelStatus[ch]; ok {
		return st
	}
	return DispatchStatus{State: StateNotApplicable}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Contact) Clone() *Contact {
	cp := *c
	cp.PhoneNumbers = append([]string(nil), c.PhoneNumbers...)
	cp.Emails = append([]string(nil), c.Emails...)
	cp.URLs = append([]string(nil), c.URLs...)
	cp.ChannelStatus = make(map[Channel]DispatchStatus, len(c.ChannelStatus))
	for k, v := range c.ChannelStatus {
		cp.ChannelStatus[k] = v
	}
	return &cp
}

// NewContactID derives a sortable identifier from the creation time plus a
// random suffix that breaks ties between contacts created in the same
// nanosecond.
func NewContactID(createdAt time.Time, suffix string) string {
	return createdAt.UTC().Format(contactIDLayout) + "-" + suffix
}

// Eligibility records which channels a contact can be dispatched to. It is
// computed once at ingestion.
type Eligibility struct {
	Messaging  bool
	Connector  bool
	Notifier   bool
	ProfileURL string
}

// ComputeEligibility evaluates the per-channel field predicates.
// profilePattern selects professional-network profile URLs; a nil pattern
// makes no URL eligible.
func ComputeEligibility(phones, emails, urls []string, profilePattern *regexp.Regexp) Eligibility {
	e := Eligibility{
		Messaging: len(phones) > 0,
		Notifier:  len(emails) > 0,
	}
	if profilePattern != nil {
		for _, u := range urls {
			if profilePattern.MatchString(u) {
				e.Connector = true
				e.ProfileURL = u
				break
			}
		}
	}
	return e
}

// Eligible reports the predicate for a single channel.
func (e Eligibility) Eligible(ch Channel) bool {
	switch ch {
	case ChannelMessaging:
		return e.Messaging
	case ChannelConnector:
		return e.Connector
	case ChannelNotifier:
		return e.Notifier
	}
	return false
}

// InitialStatus builds the starting channel map: pending for eligible
// channels, not applicable for the rest.
func (e Eligibility) InitialStatus(now time.Time) map[Channel]DispatchStatus {
	out := make(map[Channel]DispatchStatus, len(AllChannels))
	for _, ch := range AllChannels {
		state := StateNotApplicable
		if e.Eligible(ch) {
			state = StatePending
		}
		out[ch] = DispatchStatus{State: state, UpdatedAt: now}
	}
	return out
}
