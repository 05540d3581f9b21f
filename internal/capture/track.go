package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

const trackSampleRate = 48000 // Opus decode rate for WebRTC audio

// trackReader pulls RTP packets from one remote audio track, decodes Opus at
// 48kHz mono, resamples to the mix rate, and posts PCM frames to the mixer's
// event queue.
type trackReader struct {
	id     string
	mixer  *Mixer
	dec    *opus.Decoder
	rs     *soxr.Resampler
	rsBuf  *bytes.Buffer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	firstPacketLogged bool
}

func newTrackReader(id string, m *Mixer) (*trackReader, error) {
	dec, err := opus.NewDecoder(trackSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// The resampler writes into the same buffer we read back from.
	rsBuf := &bytes.Buffer{}
	rs, err := soxr.New(rsBuf, float64(trackSampleRate), float64(m.cfg.SampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	return &trackReader{
		id:     id,
		mixer:  m,
		dec:    dec,
		rs:     rs,
		rsBuf:  rsBuf,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins reading RTP packets from the track.
func (t *trackReader) Start(track *webrtc.TrackRemote) {
	t.wg.Add(1)
	go t.processTrack(track)
}

// Stop halts processing and waits for the read loop to exit.
func (t *trackReader) Stop() {
	t.cancel()
	t.wg.Wait()
	if t.rs != nil {
		t.rs.Close()
	}
}

func (t *trackReader) processTrack(track *webrtc.TrackRemote) {
	defer t.wg.Done()

	buf := make([]byte, 1500)
	rtpPacket := &rtp.Packet{}
	pcmFrame := make([]int16, 960) // 20ms @ 48kHz mono

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			n, _, err := track.Read(buf)
			if err != nil {
				if t.ctx.Err() == nil {
					logging.Warning(logging.CategoryCapture, "track read ended trackID=%s: %v", t.id, err)
				}
				return
			}

			if !t.firstPacketLogged {
				t.firstPacketLogged = true
				logging.Debug(logging.CategoryCapture, "first RTP packet trackID=%s size=%d", t.id, n)
			}

			if err := rtpPacket.Unmarshal(buf[:n]); err != nil {
				logging.Warning(logging.CategoryCapture, "bad RTP packet trackID=%s: %v", t.id, err)
				continue
			}
			if len(rtpPacket.Payload) == 0 {
				continue // DTX
			}

			sampleCount, err := t.dec.Decode(rtpPacket.Payload, pcmFrame)
			if err != nil {
				logging.Warning(logging.CategoryCapture, "opus decode failed trackID=%s: %v", t.id, err)
				continue
			}
			if sampleCount == 0 {
				continue
			}

			resampled, err := t.resample(pcmFrame[:sampleCount])
			if err != nil {
				logging.Warning(logging.CategoryCapture, "resample failed trackID=%s: %v", t.id, err)
				continue
			}
			if len(resampled) == 0 {
				continue // resampler is buffering
			}

			t.mixer.post(event{kind: evFrame, trackID: t.id, samples: resampled})
		}
	}
}

// resample converts one decoded 48kHz frame to the mix rate.
func (t *trackReader) resample(samples []int16) ([]int16, error) {
	in := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	t.rsBuf.Reset()
	if _, err := t.rs.Write(in); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	outBytes := t.rsBuf.Bytes()
	out := make([]int16, len(outBytes)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(outBytes[i*2:]))
	}
	return out, nil
}
