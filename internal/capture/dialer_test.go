package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-coach-service/internal/channel"
	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/stt"
)

type recordingCallback struct {
	mu       sync.Mutex
	partials []string
	finals   []string
	errs     []error
}

func (c *recordingCallback) OnPartial(text string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, text)
}

func (c *recordingCallback) OnFinal(text string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, text)
}

func (c *recordingCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recordingCallback) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.partials...), append([]string(nil), c.finals...)
}

// channelStub answers each audio-chunk with one transcript-update.
func channelStub(t *testing.T, events chan<- string, query chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := 0
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := channel.Decode(frame)
			require.NoError(t, err)
			events <- env.Event
			if env.Event != channel.EventAudioChunk {
				continue
			}
			var req channel.AudioChunkRequest
			require.NoError(t, json.Unmarshal(env.Data, &req))
			n++
			out, _ := channel.Encode(channel.EventTranscriptUpdate, channel.TranscriptUpdate{
				SessionID:  req.SessionID,
				Transcript: "chunk",
				IsFinal:    n > 1,
				Confidence: 0.9,
			})
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}
	}))
}

func TestChannelDialer(t *testing.T) {
	events := make(chan string, 16)
	query := make(chan string, 1)
	srv := channelStub(t, events, query)
	defer srv.Close()

	d := ChannelDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket", OrganizationID: "org-1", UserID: "u1"}
	link, err := d.Dial("S1", "", stt.DefaultStreamOptions("en"))
	require.NoError(t, err)

	cb := &recordingCallback{}
	require.NoError(t, link.Start(context.Background(), cb))
	assert.Contains(t, <-query, "organizationId=org-1")

	require.NoError(t, link.SendAudio(context.Background(), []byte{1, 2}))
	require.NoError(t, link.SendAudio(context.Background(), []byte{3, 4}))
	assert.Eventually(t, func() bool {
		p, f := cb.snapshot()
		return len(p) == 1 && len(f) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	var seen []string
	timeout := time.After(2 * time.Second)
	for len(seen) < 5 {
		select {
		case ev := <-events:
			seen = append(seen, ev)
		case <-timeout:
			t.Fatalf("saw only %v", seen)
		}
	}
	assert.Equal(t, []string{
		channel.EventJoinSession,
		channel.EventStartRecording,
		channel.EventAudioChunk,
		channel.EventAudioChunk,
		channel.EventStopRecording,
	}, seen)
}

func TestDeepgramDialer(t *testing.T) {
	_, err := DeepgramDialer{}.Dial("S1", "", stt.DefaultStreamOptions("en"))
	assert.ErrorIs(t, err, stt.ErrNotConfigured)

	link, err := DeepgramDialer{LiveURL: "wss://example.invalid/v1/listen"}.Dial("S1", "temp-key", stt.DefaultStreamOptions("en"))
	require.NoError(t, err)
	u, err := link.(interface{ URL() (string, error) }).URL()
	require.NoError(t, err)
	assert.Contains(t, u, "utterance_end_ms=2500")
	assert.Contains(t, u, "endpointing=500")
	assert.Contains(t, u, "model=nova-2")
}

func TestHTTPDelivery(t *testing.T) {
	var got struct {
		TranscriptChunks []models.TranscriptChunk `json:"transcriptChunks"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/S1/transcript", r.URL.Path)
		assert.Equal(t, "org-1", r.Header.Get("X-Organization-ID"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if len(got.TranscriptChunks) > 1 {
			http.Error(w, "too many", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := HTTPDelivery{BaseURL: srv.URL + "/", OrganizationID: "org-1", Token: "tok"}
	chunk := models.TranscriptChunk{Text: "Hello.", IsFinal: true, Confidence: 0.9, Timestamp: time.Now()}
	require.NoError(t, d.AppendTranscript(context.Background(), "S1", []models.TranscriptChunk{chunk}))
	assert.Equal(t, "Hello.", got.TranscriptChunks[0].Text)

	err := d.AppendTranscript(context.Background(), "S1", []models.TranscriptChunk{chunk, chunk})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
