package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// Recorder is the control surface of the capture context. *capture.Mixer
// implements it.
type Recorder interface {
	Start() (bool, error)
	Stop() (capture.Blob, error)
	Status() (capture.Status, error)
	HasAudio() (bool, error)
}

// RecordingSession owns start/stop of the recorder and the boundary export of
// the finalized recording. Boundary calls are serialized: at most one export
// is outstanding at a time.
type RecordingSession struct {
	rec Recorder

	mu        sync.Mutex
	active    bool
	startedAt time.Time
}

// NewRecordingSession wraps a recorder.
func NewRecordingSession(rec Recorder) *RecordingSession {
	return &RecordingSession{rec: rec}
}

// Start activates recording. Starting an already-active session is a no-op.
func (s *RecordingSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	started, err := s.rec.Start()
	if err != nil {
		if errors.Is(err, capture.ErrNoSupportedEncoding) {
			return fmt.Errorf("%w: %v", ErrNoAudioCaptured, err)
		}
		return fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}
	if started {
		s.active = true
		s.startedAt = time.Now().UTC()
		logging.Info(logging.CategoryExport, "recording session started at=%s", s.startedAt.Format(time.RFC3339))
	}
	return nil
}

// Active reports whether the session has started recording.
func (s *RecordingSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// StartedAt returns the recording start time (zero before Start).
func (s *RecordingSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Export stops the recorder and moves the sealed blob out of the capture
// context. The call blocks until the blob is delivered, the context expires,
// or the capture side proves unreachable; the latter two surface as
// ErrExportUnavailable, a recoverable error the controller maps to a terminal
// failure rather than a crash.
func (s *RecordingSession) Export(ctx context.Context) (capture.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type stopResult struct {
		blob capture.Blob
		err  error
	}
	ch := make(chan stopResult, 1)
	go func() {
		blob, err := s.rec.Stop()
		ch <- stopResult{blob, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return capture.Blob{}, fmt.Errorf("%w: %v", ErrExportUnavailable, res.err)
		}
		s.active = false
		logging.Info(logging.CategoryExport, "recording exported chunks=%d size=%d mimeType=%s", res.blob.ChunkCount, res.blob.Size, res.blob.MimeType)
		return res.blob, nil
	case <-ctx.Done():
		return capture.Blob{}, fmt.Errorf("%w: export timed out: %v", ErrExportUnavailable, ctx.Err())
	}
}

// Status returns the current capture snapshot.
func (s *RecordingSession) Status() (capture.Status, error) {
	return s.rec.Status()
}

// HasAudio reports whether any remote audio track is connected.
func (s *RecordingSession) HasAudio() (bool, error) {
	return s.rec.HasAudio()
}
