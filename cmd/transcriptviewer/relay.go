package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/normalizer"
)

const (
	viewerQueueLen = 100
	writeWait      = 5 * time.Second
)

// Relay fans transcript events out to connected browsers. Each session gets
// its own display filter so repeats from the partial and final topics are
// shown once.
type Relay struct {
	log zerolog.Logger

	mu       sync.Mutex
	viewers  map[*viewer]struct{}
	displays map[string]*normalizer.Display
}

type viewer struct {
	conn *websocket.Conn
	send chan models.TranscriptEvent
}

func NewRelay(log zerolog.Logger) *Relay {
	return &Relay{
		log:      log,
		viewers:  make(map[*viewer]struct{}),
		displays: make(map[string]*normalizer.Display),
	}
}

// Publish filters ev through its session's display and queues it for every
// viewer. It reports whether the event was shown.
func (r *Relay) Publish(ev models.TranscriptEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.displays[ev.SessionID]
	if !ok {
		d = normalizer.NewDisplay()
		r.displays[ev.SessionID] = d
	}
	at := time.UnixMilli(ev.Timestamp)
	if ev.Timestamp == 0 {
		at = time.Now()
	}
	if !d.Admit(normalizer.Fragment{Text: ev.Text, IsFinal: ev.IsFinal, Confidence: ev.Confidence, At: at}) {
		return false
	}
	for v := range r.viewers {
		select {
		case v.send <- ev:
		default:
			r.log.Warn().Msg("Viewer too slow, dropping it")
			r.dropLocked(v)
		}
	}
	return true
}

// Attach registers conn and blocks until the browser goes away.
func (r *Relay) Attach(conn *websocket.Conn) {
	v := &viewer{conn: conn, send: make(chan models.TranscriptEvent, viewerQueueLen)}
	r.mu.Lock()
	r.viewers[v] = struct{}{}
	n := len(r.viewers)
	r.mu.Unlock()
	r.log.Info().Int("viewers", n).Msg("Viewer connected")

	go r.writePump(v)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.mu.Lock()
	r.dropLocked(v)
	n = len(r.viewers)
	r.mu.Unlock()
	r.log.Info().Int("viewers", n).Msg("Viewer disconnected")
}

// Viewers returns the number of connected browsers.
func (r *Relay) Viewers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

func (r *Relay) dropLocked(v *viewer) {
	if _, ok := r.viewers[v]; !ok {
		return
	}
	delete(r.viewers, v)
	close(v.send)
}

func (r *Relay) writePump(v *viewer) {
	defer v.conn.Close()
	for ev := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteJSON(ev); err != nil {
			r.log.Debug().Err(err).Msg("Viewer write failed")
			return
		}
	}
	v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
