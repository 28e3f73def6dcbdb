package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prevLevel := defaultLogger.level
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prevLevel)
	})
	return &buf
}

func TestInfoRedactsContactPII(t *testing.T) {
	buf := captureDefault(t)
	SetLevel(INFO)

	Info("dispatching", "email", "john.doe@example.com", "phone", "+1 555 010 0199", "detail", "sent to jane@corp.io")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "***99", entry["phone"])
	assert.Equal(t, "sent to ja***@corp.io", entry["detail"])
}

func TestLevelFiltering(t *testing.T) {
	buf := captureDefault(t)
	SetLevel(WARN)

	Info("hidden")
	Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithPrependsFields(t *testing.T) {
	buf := captureDefault(t)
	SetLevel(DEBUG)

	With("component", "dispatch").Info("claimed", "channel", "messaging")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "messaging", entry["channel"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***90", RedactPhone("+1234567890"))
	assert.Equal(t, "***", RedactPhone("12"))
}
