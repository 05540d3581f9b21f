package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/wav"
)

type passTrimmer struct{}

func (passTrimmer) Trim(ctx context.Context, audio []byte, thresholdDB float64, minDuration time.Duration) ([]byte, error) {
	return audio, nil
}

type failTrimmer struct{}

func (failTrimmer) Trim(ctx context.Context, audio []byte, thresholdDB float64, minDuration time.Duration) ([]byte, error) {
	return nil, errors.New("ffmpeg not found")
}

type fakeService struct {
	maxBytes  int
	responses []func() (string, error)
	calls     int
	payloads  [][]byte
}

func (s *fakeService) MaxPayloadBytes() int {
	if s.maxBytes == 0 {
		return 64 << 20
	}
	return s.maxBytes
}

func (s *fakeService) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	s.payloads = append(s.payloads, audio)
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]()
}

func ok(text string) func() (string, error) {
	return func() (string, error) { return text, nil }
}

func transient(msg string) func() (string, error) {
	return func() (string, error) { return "", &TransientError{Err: errors.New(msg)} }
}

func testBlob(t *testing.T, seconds int) capture.Blob {
	t.Helper()
	f := wav.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	pcm := make([]byte, seconds*f.BytesPerSecond())
	b := wav.Encode(pcm, f)
	return capture.Blob{Bytes: b, MimeType: "audio/wav", Size: len(b), ChunkCount: seconds}
}

// loudBlob carries constant non-silent samples so size-based splitting never
// finds a quiet cut point and falls on exact boundaries.
func loudBlob(t *testing.T, seconds int) capture.Blob {
	t.Helper()
	f := wav.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	pcm := make([]byte, seconds*f.BytesPerSecond())
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x40
		pcm[i+1] = 0x1f // 8000
	}
	b := wav.Encode(pcm, f)
	return capture.Blob{Bytes: b, MimeType: "audio/wav", Size: len(b), ChunkCount: seconds}
}

func testPipeline(svc *fakeService, trimmer Trimmer) *Pipeline {
	return NewPipeline(Config{RetryBackoff: time.Millisecond}, trimmer, svc)
}

func TestRunSingleSegment(t *testing.T) {
	svc := &fakeService{responses: []func() (string, error){ok("hello there")}}
	p := testPipeline(svc, passTrimmer{})

	res, err := p.Run(context.Background(), testBlob(t, 7), "en")
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, 7*time.Second, res.Duration)
	assert.Equal(t, 1, res.Segments)
	assert.Zero(t, res.FailedSegments)
}

func TestRunRetriesTransientErrors(t *testing.T) {
	svc := &fakeService{responses: []func() (string, error){
		transient("status 503"),
		transient("status 429"),
		ok("eventually"),
	}}
	p := testPipeline(svc, passTrimmer{})

	res, err := p.Run(context.Background(), testBlob(t, 1), "en")
	require.NoError(t, err)
	assert.Equal(t, "eventually", res.Text)
	assert.Equal(t, 3, svc.calls)
}

func TestRunExhaustedSegmentYieldsEmptyText(t *testing.T) {
	svc := &fakeService{responses: []func() (string, error){transient("status 500")}}
	p := testPipeline(svc, passTrimmer{})

	res, err := p.Run(context.Background(), testBlob(t, 1), "en")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, 1, res.FailedSegments)
	assert.Equal(t, 3, svc.calls)
}

func TestRunNonTransientErrorNotRetried(t *testing.T) {
	svc := &fakeService{responses: []func() (string, error){
		func() (string, error) { return "", errors.New("status 401") },
	}}
	p := testPipeline(svc, passTrimmer{})

	res, err := p.Run(context.Background(), testBlob(t, 1), "en")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, 1, res.FailedSegments)
}

func TestRunTrimFailureFallsBackToUntrimmed(t *testing.T) {
	svc := &fakeService{responses: []func() (string, error){ok("text")}}
	p := testPipeline(svc, failTrimmer{})

	blob := testBlob(t, 2)
	res, err := p.Run(context.Background(), blob, "ru")
	require.NoError(t, err)
	assert.Equal(t, "text", res.Text)
	require.Len(t, svc.payloads, 1)
	assert.Equal(t, blob.Bytes, svc.payloads[0], "untrimmed audio should reach the provider")
}

func TestRunSplitsOversizedAudio(t *testing.T) {
	blob := testBlob(t, 10)
	svc := &fakeService{
		maxBytes:  len(blob.Bytes)/2 + wav.HeaderSize,
		responses: []func() (string, error){ok("part")},
	}
	p := testPipeline(svc, passTrimmer{})

	res, err := p.Run(context.Background(), blob, "en")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Segments, 2)
	assert.Equal(t, res.Segments, svc.calls)
	for _, payload := range svc.payloads {
		assert.LessOrEqual(t, len(payload), svc.maxBytes)
		_, _, err := wav.Decode(payload)
		assert.NoError(t, err, "each segment must be a standalone WAV")
	}
}

func TestRunFailedMiddleSegmentKeepsOrder(t *testing.T) {
	blob := loudBlob(t, 9)
	svc := &fakeService{maxBytes: len(blob.Bytes)/3 + wav.HeaderSize}
	svc.responses = []func() (string, error){
		ok("one"),
		transient("x"), transient("x"), transient("x"),
		ok("three"),
	}
	p := testPipeline(svc, passTrimmer{})

	res, err := p.Run(context.Background(), blob, "en")
	require.NoError(t, err)
	assert.Equal(t, "one three", res.Text)
	assert.Equal(t, 1, res.FailedSegments)
}

func TestAssembleTranscript(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want string
	}{
		{"separator inserted", []string{"Hello", "world"}, "Hello world"},
		{"trailing space not doubled", []string{"Hello ", "world"}, "Hello world"},
		{"leading space not doubled", []string{"Hello", " world"}, "Hello world"},
		{"empty parts skipped", []string{"Hello ", "", "world"}, "Hello world"},
		{"all empty", []string{"", ""}, ""},
		{"single", []string{"solo"}, "solo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, assembleTranscript(tc.in))
		})
	}
}
