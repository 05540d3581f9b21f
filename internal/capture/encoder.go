package capture

import (
	"bytes"
	"encoding/binary"

	"github.com/Agasper/WebRTCTranscribe/internal/wav"
)

// encoder accumulates mixed PCM chunks and seals them into one encoded blob.
type encoder interface {
	AppendChunk(chunk []int16)
	Finalize() []byte
}

// Encoding is one entry of the ordered encoding preference list.
type Encoding struct {
	MimeType  string
	Supported func() bool
	factory   func(sampleRate int) encoder
}

// DefaultEncodings is the preference order used when Config.Encodings is nil.
// WAV comes first: it is self-describing and every collaborator accepts it.
var DefaultEncodings = []Encoding{
	{
		MimeType:  "audio/wav",
		Supported: func() bool { return true },
		factory:   newWAVEncoder,
	},
	{
		MimeType:  "audio/L16",
		Supported: func() bool { return true },
		factory:   newRawEncoder,
	},
}

// selectEncoding returns the first supported encoding, or nil when none is.
func selectEncoding(prefs []Encoding) *Encoding {
	for i := range prefs {
		if prefs[i].Supported == nil || prefs[i].Supported() {
			return &prefs[i]
		}
	}
	return nil
}

type wavEncoder struct {
	sampleRate int
	pcm        bytes.Buffer
}

func newWAVEncoder(sampleRate int) encoder {
	return &wavEncoder{sampleRate: sampleRate}
}

func (e *wavEncoder) AppendChunk(chunk []int16) {
	writePCM16(&e.pcm, chunk)
}

func (e *wavEncoder) Finalize() []byte {
	return wav.Encode(e.pcm.Bytes(), wav.Format{
		SampleRate:    e.sampleRate,
		Channels:      1,
		BitsPerSample: 16,
	})
}

// rawEncoder emits headerless big-endian L16, the RFC 2586 wire layout.
type rawEncoder struct {
	pcm bytes.Buffer
}

func newRawEncoder(int) encoder { return &rawEncoder{} }

func (e *rawEncoder) AppendChunk(chunk []int16) {
	for _, s := range chunk {
		binary.Write(&e.pcm, binary.BigEndian, s)
	}
}

func (e *rawEncoder) Finalize() []byte {
	return e.pcm.Bytes()
}

func writePCM16(buf *bytes.Buffer, samples []int16) {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	buf.Write(b)
}
