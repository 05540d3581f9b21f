// Package wav reads and writes RIFF/WAVE containers for 16-bit PCM audio.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the canonical 44-byte RIFF header this package
// writes.
const HeaderSize = 44

// Format describes the PCM layout of a WAV file.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond returns the PCM data rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Encode wraps raw little-endian PCM in a RIFF/WAVE header.
func Encode(pcm []byte, f Format) []byte {
	byteRate := uint32(f.BytesPerSecond())
	blockAlign := uint16(f.Channels * f.BitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.Grow(HeaderSize + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(f.BitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// Decode parses a WAV container and returns its format and raw PCM data.
// Only uncompressed PCM is supported.
func Decode(b []byte) (Format, []byte, error) {
	if len(b) < HeaderSize {
		return Format{}, nil, fmt.Errorf("wav: truncated header: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("wav: not a RIFF/WAVE container")
	}

	var f Format
	var data []byte
	// Walk chunks; fmt must precede data.
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(b) {
			return Format{}, nil, fmt.Errorf("wav: chunk %q overruns file", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("wav: short fmt chunk: %d bytes", size)
			}
			audioFormat := binary.LittleEndian.Uint16(b[off : off+2])
			if audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("wav: unsupported audio format %d", audioFormat)
			}
			f.Channels = int(binary.LittleEndian.Uint16(b[off+2 : off+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(b[off+14 : off+16]))
		case "data":
			data = b[off : off+size]
		}
		off += size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if f.SampleRate == 0 || f.Channels == 0 {
		return Format{}, nil, fmt.Errorf("wav: missing fmt chunk")
	}
	if data == nil {
		return Format{}, nil, fmt.Errorf("wav: missing data chunk")
	}
	return f, data, nil
}
