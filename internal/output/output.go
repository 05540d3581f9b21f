// Package output shapes the final machine-readable record of a session.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Agasper/WebRTCTranscribe/internal/session"
)

// Record is the single JSON document emitted when a session ends.
type Record struct {
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	Transcript      string `json:"transcript"`
}

// Assemble converts a session result into its output record. Timestamps are
// normalized to UTC RFC 3339; duration is rounded to whole seconds.
func Assemble(res session.Result) Record {
	return Record{
		URL:             res.URL,
		DurationSeconds: int(res.Duration().Round(time.Second).Seconds()),
		StartedAt:       res.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:         res.EndedAt.UTC().Format(time.RFC3339),
		Transcript:      res.Transcript,
	}
}

// Write serializes the record as indented JSON with a trailing newline.
func Write(w io.Writer, rec Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output record: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write output record: %w", err)
	}
	return nil
}
