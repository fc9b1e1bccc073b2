package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-coach-service/internal/service/audio"
	"speech-coach-service/internal/service/stt"
)

func TestParseLive(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		ok     bool
		result stt.Result
	}{
		{
			name:   "interim",
			data:   `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":" hello ","confidence":0.4}]}}`,
			ok:     true,
			result: stt.Result{Transcript: "hello", Confidence: 0.4},
		},
		{
			name:   "final",
			data:   `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello there.","confidence":0.9}]}}`,
			ok:     true,
			result: stt.Result{Transcript: "Hello there.", IsFinal: true, Confidence: 0.9},
		},
		{name: "utterance end", data: `{"type":"UtteranceEnd"}`},
		{name: "no alternatives", data: `{"type":"Results","channel":{"alternatives":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok, err := ParseLive([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.result, res)
		})
	}

	_, _, err := ParseLive([]byte("not json"))
	assert.Error(t, err)
}

func TestLiveQuery(t *testing.T) {
	opts := stt.DefaultStreamOptions("en")
	opts.UtteranceEndMs = 2500
	q := LiveQuery("", opts)

	assert.Equal(t, "nova-2", q.Get("model"))
	assert.Equal(t, "en", q.Get("language"))
	assert.Equal(t, "true", q.Get("interim_results"))
	assert.Equal(t, "true", q.Get("punctuate"))
	assert.Equal(t, "true", q.Get("smart_format"))
	assert.Equal(t, "true", q.Get("vad_events"))
	assert.Equal(t, "500", q.Get("endpointing"))
	assert.Equal(t, "2500", q.Get("utterance_end_ms"))
	assert.Equal(t, "linear16", q.Get("encoding"))
	assert.Equal(t, "16000", q.Get("sample_rate"))

	webm := LiveQuery("nova-2", stt.StreamOptions{Language: "en", Encoding: "webm"})
	assert.Empty(t, webm.Get("encoding"), "container formats carry their own encoding")
}

func TestNewFactory_RequiresKey(t *testing.T) {
	_, err := NewFactory(Config{})
	assert.True(t, errors.Is(err, stt.ErrNotConfigured))

	_, err = NewRESTClient(Config{}, nil)
	assert.True(t, errors.Is(err, stt.ErrNotConfigured))
}

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
	return append([]string{}, c.partials...), append([]string{}, c.finals...)
}

func TestAdapter_LiveRoundTrip(t *testing.T) {
	var (
		gotAuth  string
		gotQuery string
		received = make(chan []byte, 4)
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			received <- data
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello","confidence":0.4}]}}`))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello there.","confidence":0.9}]}}`))
		}
	}))
	defer srv.Close()

	cfg := Config{APIKey: "secret", LiveURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	opts := stt.DefaultStreamOptions("en")
	opts.SessionID = "S1"
	a := NewAdapter(cfg, opts)
	cb := &recordingCallback{}

	require.NoError(t, a.Start(context.Background(), cb))
	require.NoError(t, a.SendAudio(context.Background(), []byte{1, 2, 3, 4}))

	select {
	case data := <-received:
		assert.Equal(t, []byte{1, 2, 3, 4}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	assert.Eventually(t, func() bool {
		p, f := cb.snapshot()
		return len(p) == 1 && len(f) == 1
	}, 2*time.Second, 10*time.Millisecond)

	partials, finals := cb.snapshot()
	assert.Equal(t, []string{"hello"}, partials)
	assert.Equal(t, []string{"Hello there."}, finals)
	assert.Equal(t, "Token secret", gotAuth)
	assert.Contains(t, gotQuery, "model=nova-2")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Error(t, a.SendAudio(context.Background(), []byte{1}))
	assert.Empty(t, cb.errs)
}

func TestAdapter_SubprotocolAuth(t *testing.T) {
	protocols := make(chan []string, 1)
	upgrader := websocket.Upgrader{Subprotocols: []string{"token"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protocols <- websocket.Subprotocols(r)
		assert.Empty(t, r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := Config{APIKey: "short-lived", LiveURL: "ws" + strings.TrimPrefix(srv.URL, "http"), SubprotocolAuth: true}
	a := NewAdapter(cfg, stt.DefaultStreamOptions("en"))
	require.NoError(t, a.Start(context.Background(), &recordingCallback{}))
	defer a.Close()

	assert.Equal(t, []string{"token", "short-lived"}, <-protocols)
}

func TestAdapter_ProviderCloseReportsError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "secret", LiveURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, stt.DefaultStreamOptions("en"))
	cb := &recordingCallback{}
	require.NoError(t, a.Start(context.Background(), cb))
	defer a.Close()

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.errs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.True(t, errors.Is(cb.errs[0], stt.ErrStreamClosed))
}

func TestAdapter_LocalCloseReportsNothing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "secret", LiveURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, stt.DefaultStreamOptions("en"))
	cb := &recordingCallback{}
	require.NoError(t, a.Start(context.Background(), cb))
	require.NoError(t, a.Close())

	time.Sleep(100 * time.Millisecond)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Empty(t, cb.errs)
}

func TestAdapter_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAdapter(Config{APIKey: "bad", LiveURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, stt.DefaultStreamOptions("en"))
	err := a.Start(context.Background(), &recordingCallback{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRESTClient_Transcribe(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"Hello there.","confidence":0.93}]}]}}`))
	}))
	defer srv.Close()

	c, err := NewRESTClient(Config{APIKey: "secret", RESTURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	pcm := []byte{1, 0, 2, 0}
	res, err := c.Transcribe(context.Background(), pcm, 16000, "en")
	require.NoError(t, err)

	assert.Equal(t, stt.Result{Transcript: "Hello there.", IsFinal: true, Confidence: 0.93}, res)
	require.Len(t, body, audio.WAVHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(body[:4]))
}

func TestRESTClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewRESTClient(Config{APIKey: "secret", RESTURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = c.Transcribe(context.Background(), []byte{0, 0}, 16000, "en")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, "quota exceeded", httpErr.Body)
}

func TestRESTClient_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	c, err := NewRESTClient(Config{APIKey: "secret", RESTURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	res, err := c.Transcribe(context.Background(), []byte{0, 0}, 0, "")
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.True(t, res.IsFinal)
}
