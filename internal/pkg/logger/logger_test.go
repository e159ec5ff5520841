package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DEBUG, "INFO": INFO, "warning": WARN, "error": ERROR} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	require.NoError(t, Configure("warn", true))

	Info("dropped")
	assert.Empty(t, buf.String())

	Warn("kept", "campaign_id", "c1")
	entry := lastEntry(t, buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "c1", entry["campaign_id"])
}

func TestRedaction(t *testing.T) {
	buf := capture(t)

	Info("sent", "to", "john.doe@example.com", "note", "reply from ab@example.com", "count", 3)
	entry := lastEntry(t, buf)
	assert.Equal(t, "jo***@example.com", entry["to"])
	assert.Equal(t, "reply from ***@example.com", entry["note"])
	assert.Equal(t, float64(3), entry["count"])

	SetRedactPII(false)
	Info("sent", "to", "john.doe@example.com")
	assert.Equal(t, "john.doe@example.com", lastEntry(t, buf)["to"])
}

func TestWithAttachesFields(t *testing.T) {
	buf := capture(t)

	log := With("worker_id", "dispatch-1")
	log.Error("send failed", "error", errors.New("boom"))
	entry := lastEntry(t, buf)
	assert.Equal(t, "dispatch-1", entry["worker_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "ERROR", entry["level"])
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-address"))
	assert.Equal(t, "***@***", RedactEmail("a@b@c"))
}
