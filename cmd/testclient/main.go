// Command testclient drives one scripted session over the event channel:
// join, start, a few audio chunks, stop, transcript fetch. Every inbound
// event is printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"speech-coach-service/internal/channel"
	"speech-coach-service/internal/observability/logging"
)

const (
	sampleRate    = 16000
	chunkDuration = 250 * time.Millisecond
)

func main() {
	server := flag.String("server", "ws://localhost:3001/socket", "Event channel WebSocket URL")
	sessionID := flag.String("session", "test-"+time.Now().Format("150405"), "Session ID")
	org := flag.String("org", "org-demo", "Organization ID")
	user := flag.String("user", "user-demo", "User ID")
	chunks := flag.Int("chunks", 8, "Number of audio chunks to send")
	flag.Parse()

	log := logging.Init(logging.CLIConfig("testclient"))

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}
	q := u.Query()
	q.Set("organizationId", *org)
	q.Set("userId", *user)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", u.String()).Msg("Connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := channel.Decode(frame)
			if err != nil {
				log.Warn().Err(err).Msg("Undecodable frame")
				continue
			}
			fmt.Printf("<- %-22s %s\n", env.Event, env.Data)
		}
	}()

	send := func(event string, data any) {
		frame, err := channel.Encode(event, data)
		if err != nil {
			log.Fatal().Err(err).Msg("Encode failed")
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Fatal().Err(err).Str("event", event).Msg("Send failed")
		}
		fmt.Printf("-> %s\n", event)
	}

	session := channel.SessionRequest{SessionID: *sessionID}
	send(channel.EventJoinSession, session)
	send(channel.EventStartRecording, channel.StartRecordingRequest{SessionID: *sessionID, Language: "en"})

	ticker := time.NewTicker(chunkDuration)
	for i := 0; i < *chunks; i++ {
		<-ticker.C
		send(channel.EventAudioChunk, channel.AudioChunkRequest{
			SessionID:  *sessionID,
			Chunk:      tone(i),
			SampleRate: sampleRate,
			Encoding:   "LINEAR16",
		})
	}
	ticker.Stop()

	send(channel.EventStopRecording, session)
	send(channel.EventGetTranscript, session)
	send(channel.EventGetConnectionStatus, struct{}{})

	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// tone returns one chunk of a 440 Hz sine as little-endian 16-bit PCM.
func tone(seq int) []byte {
	n := int(float64(sampleRate) * chunkDuration.Seconds())
	out := make([]byte, n*2)
	offset := seq * n
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(offset+i)/sampleRate))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
