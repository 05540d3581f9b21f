package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

const (
	groqTranscriptionURL = "https://api.groq.com/openai/v1/audio/transcriptions"
	groqModel            = "whisper-large-v3-turbo"

	// groqMaxPayloadBytes is the provider's upload limit with headroom for
	// the multipart framing.
	groqMaxPayloadBytes = 24 << 20
)

// Context prompts steer the model toward transcription-style output per
// language.
var groqPrompts = map[string]string{
	"ru": "Расшифровка рабочей видеовстречи. Несколько участников обсуждают задачи.",
	"en": "Transcript of a work video meeting. Several participants discuss tasks.",
}

const groqDefaultPrompt = "Transcript of a work video meeting."

// GroqService calls the Groq speech-to-text API.
type GroqService struct {
	apiKey string
	url    string
	client *http.Client
}

// NewGroqService builds a client with the given API key.
func NewGroqService(apiKey string) *GroqService {
	return &GroqService{
		apiKey: apiKey,
		url:    groqTranscriptionURL,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// MaxPayloadBytes reports the largest audio payload a single request accepts.
func (s *GroqService) MaxPayloadBytes() int { return groqMaxPayloadBytes }

// Transcribe sends one WAV payload and returns its text. HTTP 429 and 5xx
// responses come back as TransientError so the caller can retry.
func (s *GroqService) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	fields := map[string]string{
		"model":           groqModel,
		"response_format": "json",
		"temperature":     "0",
	}
	if language != "" {
		fields["language"] = language
	}
	if prompt, ok := groqPrompts[language]; ok {
		fields["prompt"] = prompt
	} else {
		fields["prompt"] = groqDefaultPrompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("build transcription request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	logging.Debug(logging.CategoryTranscribe, "transcription request id=%s bytes=%d language=%s", requestID, len(audio), language)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("transcription request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("read transcription response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("transcription API status %d: %s", resp.StatusCode, truncateBody(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &TransientError{Err: err}
		}
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return parsed.Text, nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
