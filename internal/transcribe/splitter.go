package transcribe

import (
	"fmt"
	"math"

	"github.com/Agasper/WebRTCTranscribe/internal/wav"
)

// splitWAV divides a WAV payload into provider-sized segments, each re-sealed
// as a standalone WAV. Cut points prefer the quietest analysis window inside
// the tail of each segment so words are not sliced mid-syllable; when no
// usable window exists the cut falls back to the hard size boundary.
func splitWAV(audio []byte, maxBytes int, thresholdDB float64) ([][]byte, error) {
	if len(audio) <= maxBytes {
		return [][]byte{audio}, nil
	}

	format, pcm, err := wav.Decode(audio)
	if err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}
	if format.BitsPerSample != 16 || format.Channels != 1 {
		return nil, fmt.Errorf("split audio: unsupported format %d-bit %dch", format.BitsPerSample, format.Channels)
	}

	// Leave room for the header each segment regains on re-encode.
	maxPCM := maxBytes - wav.HeaderSize
	if maxPCM <= 0 {
		return nil, fmt.Errorf("split audio: payload limit %d too small", maxBytes)
	}
	// Cut on sample boundaries.
	maxPCM &^= 1

	window := format.SampleRate / 10 * 2 // 100ms of 16-bit samples, in bytes

	var segments [][]byte
	for len(pcm) > 0 {
		if len(pcm) <= maxPCM {
			segments = append(segments, wav.Encode(pcm, format))
			break
		}
		cut := quietestCut(pcm, maxPCM, window, thresholdDB)
		segments = append(segments, wav.Encode(pcm[:cut], format))
		pcm = pcm[cut:]
	}
	return segments, nil
}

// quietestCut scans the last quarter of the allowed range in window steps and
// returns the end of the quietest window found below thresholdDB, or limit
// when nothing qualifies.
func quietestCut(pcm []byte, limit, window int, thresholdDB float64) int {
	if window <= 0 || window > limit {
		return limit
	}
	searchStart := limit - limit/4
	searchStart -= searchStart % window

	best := limit
	bestDB := thresholdDB
	for off := searchStart; off+window <= limit; off += window {
		db := windowRMSdB(pcm[off : off+window])
		if db < bestDB {
			bestDB = db
			best = off + window
		}
	}
	return best
}

// windowRMSdB computes signal level of little-endian int16 samples in dBFS.
func windowRMSdB(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(chunk[2*i]) | uint16(chunk[2*i+1])<<8))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms < 1 {
		rms = 1
	}
	return 20 * math.Log10(rms/32768)
}

// nearEmptyWAV reports whether a WAV payload carries effectively no audio.
func nearEmptyWAV(audio []byte) bool {
	return len(audio) <= wav.HeaderSize+2
}
