// Package aigen talks to the speech generation service that produces
// voice-over audio from text.
package aigen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kelasi/composer/internal/wav"
)

const (
	DefaultVoice = "Algenib"

	speakPath        = "/v1/speech"
	maxErrorBody     = 4096
	maxResponseBytes = 64 << 20
)

var (
	ErrEmptyText     = errors.New("speech text is empty")
	ErrNoMedia       = errors.New("no media returned")
	ErrNotConfigured = errors.New("speech generation endpoint not configured")
)

// GenerationError is a non-2xx answer from the generation service.
type GenerationError struct {
	StatusCode int
	Body       string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("speech generation failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors are permanent.
func (e *GenerationError) IsRetryable() bool {
	return e.StatusCode >= 500
}

type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type speechResponse struct {
	Media string `json:"media"`
}

// Speaker turns text into an audio data URL.
type Speaker interface {
	Speak(ctx context.Context, req SpeechRequest) (string, error)
}

// HTTPClient is the production Speaker.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Speak requests speech for req.Text. Raw PCM answers are wrapped into WAV so
// the returned data URL is always directly playable.
func (c *HTTPClient) Speak(ctx context.Context, req SpeechRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyText
	}
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal speech request: %w", err)
	}

	url := c.baseURL + speakPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.New().String())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Info("requesting speech generation", "url", url, "voice", req.Voice, "chars", len(req.Text))
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &GenerationError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out speechResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("cannot parse speech response: %w", err)
	}
	if out.Media == "" {
		return "", ErrNoMedia
	}

	media, err := wav.NormalizeAudio(out.Media)
	if err != nil {
		return "", err
	}

	c.logger.Info("speech generation complete",
		"duration_ms", time.Since(start).Milliseconds(),
		"size", humanize.Bytes(uint64(len(media))),
	)
	return media, nil
}
