package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agasper/WebRTCTranscribe/internal/session"
)

func TestAssemble(t *testing.T) {
	loc := time.FixedZone("CEST", 2*3600)
	res := session.Result{
		URL:        "https://meet.example.com/standup",
		StartedAt:  time.Date(2025, 3, 10, 12, 0, 0, 0, loc),
		EndedAt:    time.Date(2025, 3, 10, 12, 30, 15, 0, loc),
		Transcript: "hello everyone",
	}

	rec := Assemble(res)
	assert.Equal(t, "https://meet.example.com/standup", rec.URL)
	assert.Equal(t, 1815, rec.DurationSeconds)
	assert.Equal(t, "2025-03-10T10:00:00Z", rec.StartedAt, "timestamps must be UTC")
	assert.Equal(t, "2025-03-10T10:30:15Z", rec.EndedAt)
	assert.Equal(t, "hello everyone", rec.Transcript)
}

func TestWriteFieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Record{URL: "u", Transcript: "t"}))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	for _, key := range []string{"url", "duration_seconds", "started_at", "ended_at", "transcript"} {
		assert.Contains(t, parsed, key)
	}
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
}
