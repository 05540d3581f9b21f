// Package session drives the bot lifecycle state machine: joining the
// meeting, waiting out admission, reacting to peer presence, and steering
// recording and transcription to a terminal DONE or FAILED state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/logging"
	"github.com/Agasper/WebRTCTranscribe/internal/transcribe"
)

// Meeting is the platform automation collaborator: navigation, admission and
// peer-presence observation.
type Meeting interface {
	Navigate(ctx context.Context, url string) error
	Admitted(ctx context.Context) (bool, error)
	PeerCount(ctx context.Context) (int, error)
	Ended(ctx context.Context) (bool, error)
	Leave(ctx context.Context) error
}

// Transcriber turns the exported recording into text.
type Transcriber interface {
	Run(ctx context.Context, rec capture.Blob, language string) (transcribe.Result, error)
}

// Config holds controller timeouts and session parameters.
type Config struct {
	URL      string
	Language string

	WaitingRoomTimeout  time.Duration
	EmptyMeetingTimeout time.Duration
	AloneWait           time.Duration

	// PollInterval is the cadence of admission/peer/status polling.
	PollInterval time.Duration
	// ShutdownGrace bounds the stopping phase after an interrupt; the
	// process never hangs on shutdown.
	ShutdownGrace time.Duration
	// TranscribeTimeout bounds the transcription pipeline on a normal stop.
	TranscribeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.TranscribeTimeout == 0 {
		c.TranscribeTimeout = 10 * time.Minute
	}
	return c
}

// Result is the outcome of a completed (possibly partial) session.
type Result struct {
	URL            string
	StartedAt      time.Time
	EndedAt        time.Time
	Transcript     string
	FailedSegments int
	Audio          capture.Blob
}

// Duration returns the recorded wall-clock duration.
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// stallPollLimit is how many consecutive polls without a new chunk are
// tolerated before capture is reported as stalled.
const stallPollLimit = 5

// Controller runs the session state machine. It is single-use: one Run per
// Controller.
type Controller struct {
	cfg     Config
	meeting Meeting
	rec     *RecordingSession
	pipe    Transcriber

	mu      sync.Mutex
	state   State
	stalled bool
}

// NewController builds a controller over its collaborators.
func NewController(cfg Config, meeting Meeting, rec *RecordingSession, pipe Transcriber) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		meeting: meeting,
		rec:     rec,
		pipe:    pipe,
		state:   StateInit,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stalled reports whether capture is currently considered stalled: the chunk
// count has not advanced for several consecutive polls while recording. It
// clears as soon as chunks advance again.
func (c *Controller) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalled
}

func (c *Controller) setStalled(v bool) {
	c.mu.Lock()
	c.stalled = v
	c.mu.Unlock()
}

func (c *Controller) to(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	logging.Info(logging.CategorySession, "state %s -> %s", prev, s)
}

// Run executes the session to a terminal state. Cancelling ctx interrupts
// the session from any state; the controller then best-effort flushes the
// recording within the shutdown grace period and returns the partial result
// alongside ErrInterrupted.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	c.to(StateNavigating)
	if err := c.meeting.Navigate(ctx, c.cfg.URL); err != nil {
		if ctx.Err() != nil {
			return c.abort()
		}
		return c.fail(fmt.Errorf("navigate: %w", err))
	}

	if err := c.waitAdmission(ctx); err != nil {
		if ctx.Err() != nil {
			return c.abort()
		}
		return c.fail(err)
	}

	if err := c.waitFirstAudio(ctx); err != nil {
		if ctx.Err() != nil {
			return c.abort()
		}
		return c.fail(err)
	}

	c.recordUntilStop(ctx)
	return c.finish(ctx.Err() != nil)
}

// waitAdmission polls the platform until admission is observed or the
// waiting room timeout elapses. Polling is a pure state read; repeating it
// has no side effects.
func (c *Controller) waitAdmission(ctx context.Context) error {
	c.to(StateWaitingRoom)
	deadline := time.Now().Add(c.cfg.WaitingRoomTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		admitted, err := c.meeting.Admitted(ctx)
		if err != nil {
			return fmt.Errorf("admission check: %w", err)
		}
		if admitted {
			logging.Info(logging.CategorySession, "admitted to meeting")
			return nil
		}
		if time.Now().After(deadline) {
			return ErrAdmissionTimeout
		}
		if polls%10 == 0 {
			logging.Info(logging.CategorySession, "in waiting room (%s until timeout)", time.Until(deadline).Round(time.Second))
		}
		polls++
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitFirstAudio waits in the joined-but-empty meeting until the first
// remote peer audio appears, then starts recording. The empty meeting
// timeout is the only clock here; it is never extended.
func (c *Controller) waitFirstAudio(ctx context.Context) error {
	c.to(StateJoinedEmpty)
	deadline := time.Now().Add(c.cfg.EmptyMeetingTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		has, err := c.rec.HasAudio()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExportUnavailable, err)
		}
		if has {
			if err := c.rec.Start(); err != nil {
				return err
			}
			c.to(StateRecording)
			return nil
		}
		if time.Now().After(deadline) {
			return ErrEmptyMeetingTimeout
		}
		if polls%10 == 0 {
			logging.Info(logging.CategorySession, "waiting for participants (%s remaining)", time.Until(deadline).Round(time.Second))
		}
		polls++
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// recordUntilStop runs the RECORDING/ALONE_GRACE loop until a stop
// condition: the meeting ends, the alone-grace timer expires, or ctx is
// cancelled. The alone timer is armed only on the peers-drop-to-zero edge
// and cancelled only by a peer reappearing.
func (c *Controller) recordUntilStop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var aloneDeadline time.Time
	lastChunks := -1
	stallPolls := 0

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			logging.Info(logging.CategorySession, "interrupt received, stopping")
			return
		}

		if ended, err := c.meeting.Ended(ctx); err == nil && ended {
			logging.Info(logging.CategorySession, "meeting ended")
			return
		}

		st, err := c.rec.Status()
		if err != nil {
			logging.Warning(logging.CategorySession, "capture status unavailable: %v", err)
		} else {
			if st.Recording && st.ChunksRecorded == lastChunks {
				stallPolls++
				if stallPolls == stallPollLimit {
					c.setStalled(true)
					logging.Warning(logging.CategorySession, "capture stalled: no new chunks for %d polls (chunks=%d tracks=%d)", stallPolls, st.ChunksRecorded, st.TracksConnected)
				}
			} else {
				if stallPolls >= stallPollLimit {
					logging.Info(logging.CategorySession, "capture recovered: chunks advancing again (chunks=%d)", st.ChunksRecorded)
				}
				stallPolls = 0
				c.setStalled(false)
			}
			lastChunks = st.ChunksRecorded
			logging.Debug(logging.CategorySession, "recording chunks=%d tracks=%d peers=%d", st.ChunksRecorded, st.TracksConnected, st.PeerConnections)
		}

		peers, err := c.meeting.PeerCount(ctx)
		if err != nil {
			logging.Warning(logging.CategorySession, "peer count unavailable: %v", err)
			continue
		}

		if peers == 0 {
			if c.State() == StateRecording {
				c.to(StateAloneGrace)
				aloneDeadline = time.Now().Add(c.cfg.AloneWait)
				logging.Info(logging.CategorySession, "alone in meeting, stopping in %s unless someone rejoins", c.cfg.AloneWait)
			} else if time.Now().After(aloneDeadline) {
				logging.Info(logging.CategorySession, "all participants left")
				return
			}
		} else if c.State() == StateAloneGrace {
			// Recording never paused; only the timer is cancelled.
			aloneDeadline = time.Time{}
			c.to(StateRecording)
			logging.Info(logging.CategorySession, "participant rejoined, continuing recording")
		}
	}
}

// finish runs the stopping phase: export, transcription, assembly. When
// interrupted, the whole phase is bounded by the shutdown grace period and
// whatever partial result exists is returned with ErrInterrupted.
func (c *Controller) finish(interrupted bool) (*Result, error) {
	c.to(StateStopping)
	// Leave before export and transcription: transcription can take minutes
	// and the bot must not linger in the meeting while it runs.
	c.leave()

	exportCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace)
	defer cancel()

	startedAt := c.rec.StartedAt()
	blob, err := c.rec.Export(exportCtx)
	if err != nil {
		c.to(StateFailed)
		return nil, err
	}
	endedAt := time.Now().UTC()

	if blob.ChunkCount == 0 {
		c.to(StateFailed)
		if interrupted {
			return nil, ErrInterrupted
		}
		return nil, ErrNoAudioCaptured
	}

	result := &Result{
		URL:       c.cfg.URL,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Audio:     blob,
	}

	pipeCtx := exportCtx
	if !interrupted {
		pipeCtx, cancel = context.WithTimeout(context.Background(), c.cfg.TranscribeTimeout)
		defer cancel()
	}
	tr, err := c.pipe.Run(pipeCtx, blob, c.cfg.Language)
	if err != nil {
		if interrupted {
			// Best-effort partial result: audio flushed, transcript missing.
			c.to(StateDone)
			return result, ErrInterrupted
		}
		c.to(StateFailed)
		return nil, fmt.Errorf("transcription: %w", err)
	}
	result.Transcript = tr.Text
	result.FailedSegments = tr.FailedSegments

	c.to(StateDone)
	if interrupted {
		return result, ErrInterrupted
	}
	return result, nil
}

// abort handles an interrupt that arrived before any recording existed.
func (c *Controller) abort() (*Result, error) {
	c.to(StateStopping)
	c.leave()
	c.to(StateFailed)
	return nil, ErrInterrupted
}

func (c *Controller) fail(err error) (*Result, error) {
	c.leave()
	c.to(StateFailed)
	return nil, err
}

func (c *Controller) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.meeting.Leave(ctx); err != nil {
		logging.Warning(logging.CategorySession, "failed to leave meeting: %v", err)
	}
}
