package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// FFmpegTrimmer removes silence with ffmpeg's silenceremove filter, streaming
// the audio through stdin/stdout so nothing touches disk.
type FFmpegTrimmer struct {
	path string
}

// NewFFmpegTrimmer builds a trimmer invoking the given ffmpeg binary (or
// "ffmpeg" from PATH when empty).
func NewFFmpegTrimmer(path string) *FFmpegTrimmer {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegTrimmer{path: path}
}

// Trim removes silent intervals longer than minDuration below thresholdDB.
func (t *FFmpegTrimmer) Trim(ctx context.Context, audio []byte, thresholdDB float64, minDuration time.Duration) ([]byte, error) {
	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_duration=0:start_threshold=%.0fdB:stop_periods=-1:stop_duration=%.2f:stop_threshold=%.0fdB",
		thresholdDB, minDuration.Seconds(), thresholdDB,
	)

	cmd := exec.CommandContext(ctx, t.path,
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-af", filter,
		"-f", "wav", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(audio)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug(logging.CategoryTranscribe, "running %s silenceremove threshold=%.0fdB minDuration=%s", t.path, thresholdDB, minDuration)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg silenceremove: %w: %s", err, truncateBody(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
