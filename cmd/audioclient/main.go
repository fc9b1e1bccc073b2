// Command audioclient plays a 16-bit mono WAV file through the capture client
// as if it were a live microphone and prints the cleaned transcript.
//
//	audioclient -audio sample.wav -mode channel -server ws://localhost:3001/socket
//	audioclient -audio sample.wav -mode deepgram -key $DEEPGRAM_API_KEY
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"speech-coach-service/internal/capture"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/audio"
	"speech-coach-service/internal/service/normalizer"
)

// tailWait leaves time for the provider to return the last finals.
const tailWait = 3 * time.Second

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono)")
	mode := flag.String("mode", "channel", "Provider link: channel or deepgram")
	server := flag.String("server", "ws://localhost:3001/socket", "Event channel WebSocket URL (channel mode)")
	apiBase := flag.String("api", "http://localhost:3001", "Session API base URL for transcript delivery; empty disables it")
	key := flag.String("key", os.Getenv("DEEPGRAM_API_KEY"), "Deepgram key (deepgram mode)")
	sessionID := flag.String("session", "", "Session ID; empty creates one through the session API")
	scenario := flag.String("scenario", "Audio client rehearsal", "Scenario for a created session")
	org := flag.String("org", "org-demo", "Organization ID")
	user := flag.String("user", "user-demo", "User ID")
	language := flag.String("language", "en", "Recognition language")
	flag.Parse()

	log := logging.Init(logging.CLIConfig("audioclient"))

	duration, err := wavDuration(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", *audioFile).Msg("Unreadable WAV file")
	}

	var dialer capture.Dialer
	switch *mode {
	case "deepgram":
		dialer = capture.DeepgramDialer{}
	case "channel":
		dialer = capture.ChannelDialer{URL: *server, OrganizationID: *org, UserID: *user}
	default:
		log.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}

	var delivery capture.Delivery
	if *apiBase != "" {
		delivery = capture.HTTPDelivery{BaseURL: *apiBase, OrganizationID: *org, UserID: *user}
		if *sessionID == "" {
			id, err := createSession(*apiBase, *org, *user, *scenario)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create session")
			}
			*sessionID = id
		}
	}
	if *sessionID == "" {
		*sessionID = "test-audio-" + time.Now().Format("150405")
	}

	cfg := capture.DefaultConfig()
	cfg.Language = *language
	client := capture.New(capture.WAVDevice{Path: *audioFile, Realtime: true}, dialer, delivery, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx, *sessionID, *key); err != nil {
		log.Fatal().Err(err).Msg("Failed to start capture")
	}
	log.Info().Str("sessionId", *sessionID).Dur("audio", duration).Msg("Streaming")

	display := normalizer.NewDisplay()
	var finals []string
	done := time.After(duration + tailWait)
loop:
	for {
		select {
		case u := <-client.Updates():
			if !display.Admit(normalizer.Fragment{Text: u.Text, IsFinal: u.IsFinal, Confidence: u.Confidence, At: u.At}) {
				continue
			}
			if u.IsFinal {
				finals = append(finals, u.Text)
				fmt.Printf("\r\033[K[final %.2f] %s\n", u.Confidence, u.Text)
			} else {
				fmt.Printf("\r\033[K[interim] %s", u.Text)
			}
		case <-done:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if err := client.Stop(); err != nil {
		log.Warn().Err(err).Msg("Capture stopped with errors")
	}
	fmt.Printf("\nTranscript:\n%s\n", strings.Join(finals, " "))
}

// createSession starts a session through the REST API and returns its id.
func createSession(base, org, user, scenario string) (string, error) {
	body, err := json.Marshal(map[string]string{"scenario": scenario})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(base, "/")+"/v1/sessions/start", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Organization-ID", org)
	req.Header.Set("X-User-ID", user)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session API returned %s", resp.Status)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	return out.SessionID, nil
}

func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	format, err := audio.ReadWAVHeader(f)
	if err != nil {
		return 0, err
	}
	bytesPerSecond := int64(format.SampleRateHz * format.Channels * format.BitsPerSample / 8)
	if bytesPerSecond == 0 {
		return 0, fmt.Errorf("invalid WAV format")
	}
	return time.Duration(format.DataSize * int64(time.Second) / bytesPerSecond), nil
}
