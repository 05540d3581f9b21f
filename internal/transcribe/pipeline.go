// Package transcribe turns a recorded audio blob into text: silence trim,
// provider-size-bounded segmentation, per-segment transcription with bounded
// retries, and in-order transcript assembly.
package transcribe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// Trimmer removes silence intervals from WAV audio. Implementations are
// collaborators; the pipeline only owns sequencing and failure policy.
type Trimmer interface {
	Trim(ctx context.Context, audio []byte, thresholdDB float64, minDuration time.Duration) ([]byte, error)
}

// Service transcribes one audio payload. Transient failures must be
// distinguishable via IsTransient so the pipeline can retry them.
type Service interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
	MaxPayloadBytes() int
}

// TransientError marks a provider failure worth retrying (timeout, rate
// limit, server error).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Result is the assembled transcript with session-level audio metadata.
type Result struct {
	Text           string
	Language       string
	Duration       time.Duration
	Segments       int
	FailedSegments int
}

// Config holds pipeline tuning.
type Config struct {
	// SilenceThresholdDB is the level below which audio counts as silence
	// (negative dBFS, e.g. -40).
	SilenceThresholdDB float64
	// SilenceMinDuration is the minimum silent interval the trimmer removes.
	SilenceMinDuration time.Duration
	// ChunkCadence is the capture chunk cadence, used for the duration
	// estimate.
	ChunkCadence time.Duration
	// MaxAttempts bounds per-segment transcription attempts.
	MaxAttempts int
	// RetryBackoff is the initial backoff between attempts; it doubles each
	// retry.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceThresholdDB == 0 {
		c.SilenceThresholdDB = -40
	}
	if c.SilenceMinDuration == 0 {
		c.SilenceMinDuration = time.Second
	}
	if c.ChunkCadence == 0 {
		c.ChunkCadence = time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

// Pipeline sequences the collaborators.
type Pipeline struct {
	cfg     Config
	trimmer Trimmer
	svc     Service
}

// NewPipeline builds a pipeline over its collaborators.
func NewPipeline(cfg Config, trimmer Trimmer, svc Service) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults(), trimmer: trimmer, svc: svc}
}

// Run processes one exported recording into a transcript. A segment whose
// retries are exhausted contributes an empty string and is counted in
// FailedSegments; only a whole-pipeline failure returns an error.
func (p *Pipeline) Run(ctx context.Context, rec capture.Blob, language string) (Result, error) {
	duration := time.Duration(rec.ChunkCount) * p.cfg.ChunkCadence
	logging.Info(logging.CategoryTranscribe, "transcribing recording size=%d chunks=%d estimatedDuration=%s language=%s", rec.Size, rec.ChunkCount, duration, language)

	audio := p.trim(ctx, rec.Bytes)

	segments, err := splitWAV(audio, p.svc.MaxPayloadBytes(), p.cfg.SilenceThresholdDB)
	if err != nil {
		return Result{}, err
	}
	if len(segments) > 1 {
		logging.Info(logging.CategoryTranscribe, "split audio into %d segments", len(segments))
	}

	texts := make([]string, 0, len(segments))
	failed := 0
	for i, seg := range segments {
		text, err := p.transcribeSegment(ctx, seg, language)
		if err != nil {
			logging.Warning(logging.CategoryTranscribe, "segment %d/%d failed, continuing with empty text: %v", i+1, len(segments), err)
			failed++
			text = ""
		}
		texts = append(texts, text)
	}

	return Result{
		Text:           assembleTranscript(texts),
		Language:       language,
		Duration:       duration,
		Segments:       len(segments),
		FailedSegments: failed,
	}, nil
}

// trim applies silence removal, falling back to the untrimmed audio when the
// trimmer fails or trims everything away.
func (p *Pipeline) trim(ctx context.Context, audio []byte) []byte {
	trimmed, err := p.trimmer.Trim(ctx, audio, p.cfg.SilenceThresholdDB, p.cfg.SilenceMinDuration)
	if err != nil {
		logging.Warning(logging.CategoryTranscribe, "silence trim failed, using untrimmed audio: %v", err)
		return audio
	}
	if nearEmptyWAV(trimmed) {
		logging.Warning(logging.CategoryTranscribe, "silence trim left no usable audio (%d bytes), using untrimmed audio", len(trimmed))
		return audio
	}
	logging.Info(logging.CategoryTranscribe, "silence trimmed %d -> %d bytes", len(audio), len(trimmed))
	return trimmed
}

// transcribeSegment retries transient provider failures with exponential
// backoff up to the attempt bound.
func (p *Pipeline) transcribeSegment(ctx context.Context, seg []byte, language string) (string, error) {
	var lastErr error
	backoff := p.cfg.RetryBackoff
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}
		text, err := p.svc.Transcribe(ctx, seg, language)
		if err == nil {
			return strings.TrimRight(text, "\n"), nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
		logging.Warning(logging.CategoryTranscribe, "transient provider error (attempt %d/%d): %v", attempt+1, p.cfg.MaxAttempts, err)
	}
	return "", lastErr
}

// assembleTranscript concatenates segment texts in order with single-space
// separation. Empty segments are skipped; existing boundary whitespace is
// not doubled.
func assembleTranscript(texts []string) string {
	var sb strings.Builder
	for _, t := range texts {
		if t == "" {
			continue
		}
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), " ") && !strings.HasPrefix(t, " ") {
			sb.WriteString(" ")
		}
		sb.WriteString(t)
	}
	return sb.String()
}
