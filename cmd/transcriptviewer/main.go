// Command transcriptviewer consumes the transcript topics and shows them live
// in a browser.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
)

const page = `<!doctype html>
<html><head><meta charset="utf-8"><title>Transcript Viewer</title>
<style>
body{font-family:sans-serif;margin:2em;background:#111;color:#eee}
.final{color:#eee}.partial{color:#888;font-style:italic}
.sid{color:#6af;font-size:.8em;margin-right:.5em}
</style></head>
<body><h1>Live transcripts</h1><div id="log"></div>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  const row = document.createElement("div");
  row.className = ev.isFinal ? "final" : "partial";
  row.innerHTML = '<span class="sid"></span><span class="text"></span>';
  row.querySelector(".sid").textContent = ev.sessionId;
  row.querySelector(".text").textContent = ev.text;
  log.prepend(row);
};
</script></body></html>`

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func consume(ctx context.Context, relay *Relay, log zerolog.Logger, brokers []string, topic string) {
	// A partition reader without a consumer group works through port-forwards.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind, reading from the end")
	}
	log.Info().Str("topic", topic).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			time.Sleep(time.Second)
			continue
		}
		var ev models.TranscriptEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("Undecodable transcript event")
			continue
		}
		if relay.Publish(ev) {
			log.Debug().Str("sessionId", ev.SessionID).Bool("isFinal", ev.IsFinal).Str("text", ev.Text).Msg("Relayed")
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", models.EventTypePartial, "Partial transcript topic")
	topicFinal := flag.String("topic-final", models.EventTypeFinal, "Final transcript topic")
	flag.Parse()

	log := logging.Init(logging.CLIConfig("transcriptviewer"))
	relay := NewRelay(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	list := strings.Split(*brokers, ",")
	go consume(ctx, relay, log, list, *topicPartial)
	go consume(ctx, relay, log, list, *topicFinal)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		relay.Attach(conn)
	})

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("url", "http://localhost:"+*port).Strs("brokers", list).
		Str("partial", *topicPartial).Str("final", *topicFinal).Msg("Transcript viewer starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}
