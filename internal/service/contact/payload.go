package contact

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the inbound contact event as sent by the capture app.
type Payload struct {
	FirstName    string
	LastName     string
	PhoneNumbers StringList
	Emails       StringList
	URLs         StringList
	Photo        string
	Audio        string
	// Media held by the messaging bridge, fetched at ingestion when the
	// inline field is empty.
	PhotoMediaID string
	AudioMediaID string
}

// StringList decodes from a JSON array of strings, a single string, or null.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected a string or a list of strings")
	}
	out := make(StringList, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err != nil || strings.TrimSpace(string(item)) == "null" {
			return fmt.Errorf("element %d is not a string", i)
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// Both spellings are accepted; the capture shortcut sends snake_case.
var payloadKeys = map[string][]string{
	"firstName":    {"firstName", "first_name"},
	"lastName":     {"lastName", "last_name"},
	"phoneNumbers": {"phoneNumbers", "phone_numbers"},
	"emails":       {"emails"},
	"urls":         {"urls"},
	"photo":        {"photo"},
	"audio":        {"audio"},
	"photoMediaId": {"photoMediaId", "photo_media_id"},
	"audioMediaId": {"audioMediaId", "audio_media_id"},
}

// ParsePayload decodes a request body. All errors match ErrInvalidPayload.
func ParsePayload(body []byte) (Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Payload{}, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidPayload, err)
	}
	if fields == nil {
		return Payload{}, fmt.Errorf("%w: body must be a JSON object", ErrInvalidPayload)
	}

	var p Payload
	for field, dst := range map[string]interface{}{
		"firstName":    &p.FirstName,
		"lastName":     &p.LastName,
		"phoneNumbers": &p.PhoneNumbers,
		"emails":       &p.Emails,
		"urls":         &p.URLs,
		"photo":        &p.Photo,
		"audio":        &p.Audio,
		"photoMediaId": &p.PhotoMediaID,
		"audioMediaId": &p.AudioMediaID,
	} {
		raw, ok := lookup(fields, payloadKeys[field])
		if !ok || strings.TrimSpace(string(raw)) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return Payload{}, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
		}
	}
	return p, nil
}

func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := fields[k]; ok {
			return raw, true
		}
	}
	return nil, false
}

// normalizeList trims entries and drops empties, preserving order.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decodeMedia accepts plain or data-URL base64. Empty input yields nil.
func decodeMedia(field, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", ErrInvalidPayload, field)
	}
	return data, nil
}
