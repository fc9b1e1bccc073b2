package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"speech-coach-service/internal/service/audio"
	"speech-coach-service/internal/service/stt"
)

// HTTPError is returned when Deepgram answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("deepgram API error: %s: %s", e.Status, e.Body)
}

// RESTClient is the single-shot prerecorded transcriber.
type RESTClient struct {
	cfg  Config
	http *http.Client
}

// NewRESTClient creates a REST transcriber. A nil client uses a 30 s timeout.
func NewRESTClient(cfg Config, client *http.Client) (*RESTClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: %w: missing API key", stt.ErrNotConfigured)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTClient{cfg: cfg.withDefaults(), http: client}, nil
}

// Transcribe wraps pcm in a WAV container and posts it once. The result is
// always final; an empty transcript is not an error.
func (c *RESTClient) Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, language string) (stt.Result, error) {
	if sampleRateHz <= 0 {
		sampleRateHz = 16000
	}
	if language == "" {
		language = "en"
	}

	u, err := url.Parse(c.cfg.RESTURL)
	if err != nil {
		return stt.Result{}, fmt.Errorf("invalid REST URL: %w", err)
	}
	q := url.Values{}
	q.Set("model", c.cfg.Model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	body := audio.EncodeWAV(pcm, sampleRateHz)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return stt.Result{}, err
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.http.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return stt.Result{}, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(text)),
		}
	}

	var parsed restResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return stt.Result{}, fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	res := stt.Result{IsFinal: true}
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		alt := parsed.Results.Channels[0].Alternatives[0]
		res.Transcript = strings.TrimSpace(alt.Transcript)
		res.Confidence = alt.Confidence
	}
	return res, nil
}
