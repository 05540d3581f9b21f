package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/transcribe"
)

type fakeMeeting struct {
	mu       sync.Mutex
	admitted bool
	peers    int
	ended    bool
	left     bool
}

func (m *fakeMeeting) Navigate(ctx context.Context, url string) error { return nil }

func (m *fakeMeeting) Admitted(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitted, nil
}

func (m *fakeMeeting) PeerCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers, nil
}

func (m *fakeMeeting) Ended(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended, nil
}

func (m *fakeMeeting) Leave(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = true
	return nil
}

func (m *fakeMeeting) set(fn func(*fakeMeeting)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

type fakeRecorder struct {
	mu        sync.Mutex
	hasAudio  bool
	recording bool
	frozen    bool
	chunks    int
	stopCalls int
	blob      capture.Blob
}

func (r *fakeRecorder) Start() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := !r.recording
	r.recording = true
	return fresh, nil
}

func (r *fakeRecorder) Stop() (capture.Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
	r.recording = false
	return r.blob, nil
}

func (r *fakeRecorder) Status() (capture.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording && !r.frozen {
		r.chunks++
	}
	return capture.Status{Recording: r.recording, ChunksRecorded: r.chunks}, nil
}

func (r *fakeRecorder) HasAudio() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasAudio, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	result   transcribe.Result
	err      error
	calls    int
	language string
	onRun    func()
}

func (t *fakeTranscriber) Run(ctx context.Context, rec capture.Blob, language string) (transcribe.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.language = language
	if t.onRun != nil {
		t.onRun()
	}
	return t.result, t.err
}

func recordedBlob(chunks int) capture.Blob {
	return capture.Blob{Bytes: make([]byte, 44+chunks*32000), MimeType: "audio/wav", Size: 44 + chunks*32000, ChunkCount: chunks}
}

func testConfig() Config {
	return Config{
		URL:                 "https://meet.example.com/standup",
		Language:            "en",
		WaitingRoomTimeout:  time.Second,
		EmptyMeetingTimeout: time.Second,
		AloneWait:           time.Second,
		PollInterval:        5 * time.Millisecond,
		ShutdownGrace:       time.Second,
		TranscribeTimeout:   time.Second,
	}
}

func TestRunHappyPath(t *testing.T) {
	meeting := &fakeMeeting{admitted: true, peers: 2}
	rec := &fakeRecorder{hasAudio: true, blob: recordedBlob(3)}
	pipe := &fakeTranscriber{result: transcribe.Result{Text: "hello everyone"}}
	c := NewController(testConfig(), meeting, NewRecordingSession(rec), pipe)

	go func() {
		time.Sleep(50 * time.Millisecond)
		meeting.set(func(m *fakeMeeting) { m.ended = true })
	}()

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "hello everyone", res.Transcript)
	assert.Equal(t, "https://meet.example.com/standup", res.URL)
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, res.EndedAt.Before(res.StartedAt))
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, "en", pipe.language)
	assert.True(t, meeting.left, "controller must leave the meeting")
	assert.Equal(t, 1, rec.stopCalls)
}

func TestRunAdmissionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.WaitingRoomTimeout = 30 * time.Millisecond
	meeting := &fakeMeeting{}
	c := NewController(cfg, meeting, NewRecordingSession(&fakeRecorder{}), &fakeTranscriber{})

	start := time.Now()
	res, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrAdmissionTimeout)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, ExitAdmission, ExitCode(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "must fail promptly after the timeout")
	assert.True(t, meeting.left)
}

func TestRunEmptyMeetingTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.EmptyMeetingTimeout = 30 * time.Millisecond
	meeting := &fakeMeeting{admitted: true}
	c := NewController(cfg, meeting, NewRecordingSession(&fakeRecorder{}), &fakeTranscriber{})

	res, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptyMeetingTimeout)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, ExitEmptyMeeting, ExitCode(err))
}

func TestRunStopsAfterAloneGrace(t *testing.T) {
	cfg := testConfig()
	cfg.AloneWait = 40 * time.Millisecond
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true, blob: recordedBlob(2)}
	c := NewController(cfg, meeting, NewRecordingSession(rec), &fakeTranscriber{result: transcribe.Result{Text: "bye"}})

	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		meeting.set(func(m *fakeMeeting) { m.peers = 0 })
	}()

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "must hold the full grace period")
	assert.Equal(t, StateDone, c.State())
}

func TestRunRejoinDuringGraceKeepsRecording(t *testing.T) {
	cfg := testConfig()
	cfg.AloneWait = 60 * time.Millisecond
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true, blob: recordedBlob(5)}
	c := NewController(cfg, meeting, NewRecordingSession(rec), &fakeTranscriber{result: transcribe.Result{Text: "resumed"}})

	go func() {
		time.Sleep(20 * time.Millisecond)
		meeting.set(func(m *fakeMeeting) { m.peers = 0 })
		time.Sleep(30 * time.Millisecond)
		meeting.set(func(m *fakeMeeting) { m.peers = 1 })
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, StateRecording, c.State(), "rejoin must cancel the alone timer")
		meeting.set(func(m *fakeMeeting) { m.ended = true })
	}()

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "resumed", res.Transcript)
	assert.Equal(t, 1, rec.stopCalls, "recording must run uninterrupted across the grace window")
	assert.Equal(t, StateDone, c.State())
}

func TestRunInterruptDuringRecordingFlushesPartialResult(t *testing.T) {
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true, blob: recordedBlob(4)}
	pipe := &fakeTranscriber{err: errors.New("provider unreachable")}
	c := NewController(testConfig(), meeting, NewRecordingSession(rec), pipe)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	res, err := c.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	require.NotNil(t, res, "interrupt after chunks exist must yield a partial result")
	assert.Empty(t, res.Transcript)
	assert.Equal(t, 4, res.Audio.ChunkCount)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, ExitInterrupted, ExitCode(err))
}

func TestRunInterruptBeforeAdmissionAborts(t *testing.T) {
	meeting := &fakeMeeting{}
	c := NewController(testConfig(), meeting, NewRecordingSession(&fakeRecorder{}), &fakeTranscriber{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := c.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, c.State())
	assert.True(t, meeting.left)
}

func TestRunDetectsStalledCapture(t *testing.T) {
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true, frozen: true, blob: recordedBlob(1)}
	c := NewController(testConfig(), meeting, NewRecordingSession(rec), &fakeTranscriber{result: transcribe.Result{Text: "x"}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := c.Run(context.Background())
		assert.NoError(t, err)
		assert.NotNil(t, res)
	}()

	require.Eventually(t, func() bool { return c.Stalled() },
		time.Second, 5*time.Millisecond, "frozen chunk count must be reported as a stall")

	meeting.set(func(m *fakeMeeting) { m.ended = true })
	<-done
}

func TestRunStallClearsWhenChunksAdvance(t *testing.T) {
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true, frozen: true, blob: recordedBlob(1)}
	c := NewController(testConfig(), meeting, NewRecordingSession(rec), &fakeTranscriber{result: transcribe.Result{Text: "x"}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Run(context.Background())
	}()

	require.Eventually(t, func() bool { return c.Stalled() }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	rec.frozen = false
	rec.mu.Unlock()
	require.Eventually(t, func() bool { return !c.Stalled() },
		time.Second, 5*time.Millisecond, "advancing chunks must clear the stall")

	meeting.set(func(m *fakeMeeting) { m.ended = true })
	<-done
}

func TestRunLeavesMeetingBeforeTranscribing(t *testing.T) {
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true, blob: recordedBlob(2)}
	pipe := &fakeTranscriber{result: transcribe.Result{Text: "bye"}}

	var leftBeforePipeline bool
	pipe.onRun = func() {
		meeting.mu.Lock()
		leftBeforePipeline = meeting.left
		meeting.mu.Unlock()
	}
	c := NewController(testConfig(), meeting, NewRecordingSession(rec), pipe)

	go func() {
		time.Sleep(30 * time.Millisecond)
		meeting.set(func(m *fakeMeeting) { m.ended = true })
	}()

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, leftBeforePipeline, "the bot must not linger in the meeting during transcription")
}

func TestRunNoChunksFailsWithNoAudio(t *testing.T) {
	meeting := &fakeMeeting{admitted: true, peers: 1}
	rec := &fakeRecorder{hasAudio: true} // Stop returns an empty blob
	pipe := &fakeTranscriber{}
	c := NewController(testConfig(), meeting, NewRecordingSession(rec), pipe)

	go func() {
		time.Sleep(30 * time.Millisecond)
		meeting.set(func(m *fakeMeeting) { m.ended = true })
	}()

	res, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrNoAudioCaptured)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, c.State())
	assert.Zero(t, pipe.calls, "nothing to transcribe")
}
