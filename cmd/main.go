package main

import (
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	grpcapi "speech-coach-service/internal/api/grpc"
	"speech-coach-service/internal/app"
	"speech-coach-service/internal/channel"
	"speech-coach-service/internal/config"
	"speech-coach-service/internal/events"
	"speech-coach-service/internal/http"
	"speech-coach-service/internal/observability"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/service/audio"
	"speech-coach-service/internal/service/gateway"
	"speech-coach-service/internal/service/scoring"
	"speech-coach-service/internal/service/session"
	"speech-coach-service/internal/service/stt"
	"speech-coach-service/internal/service/stt/deepgram"
	"speech-coach-service/internal/service/stt/google"
	"speech-coach-service/internal/service/stt/mock"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	log := application.Logger
	m := metrics.DefaultMetrics

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A nil interface, not a typed nil, selects the single-instance paths.
	var rdb redis.UniversalClient
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
	}

	backbone := channel.ConnectBackbone(ctx, rdb, cfg.Redis.ChannelPrefix, cfg.Redis.ConnectTimeout, log, m)
	hub := channel.NewHub(backbone)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Event channel backbone stopped")
		}
	}()

	store, live := buildStores(cfg, rdb, log)
	sessions := session.NewManager(store, m)

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	}, m)

	factory, transcriber, closer := buildProvider(ctx, cfg, log)

	gwCfg := gateway.DefaultConfig()
	gwCfg.Provider = cfg.STT.Provider
	if cfg.STT.ResultTimeout > 0 {
		gwCfg.ResultTimeout = cfg.STT.ResultTimeout
	}
	if cfg.STT.ConnectTimeout > 0 {
		gwCfg.ConnectTimeout = cfg.STT.ConnectTimeout
	}
	gwCfg.Options = stt.DefaultStreamOptions(cfg.STT.Language)
	if cfg.STT.SampleRateHz > 0 {
		gwCfg.Options.SampleRateHz = cfg.STT.SampleRateHz
	}
	if cfg.STT.Encoding != "" {
		gwCfg.Options.Encoding = cfg.STT.Encoding
	}
	gwCfg.Options.InterimResults = cfg.STT.InterimResults
	gw := gateway.New(factory, transcriber, gwCfg, m)

	processor := audio.NewProcessor(gw, scoring.New(), publisher, cfg.STT.Provider,
		audio.Limits{WarnChunkBytes: cfg.Channel.WarnChunkBytes}, m)

	handlers := channel.NewHandlers(hub, gw, processor, sessions, live, m)
	chanServer := channel.NewServer(handlers, channel.ServerConfig{
		MaxMessageBytes: cfg.Channel.MaxMessageBytes,
		PingInterval:    cfg.Channel.PingInterval,
		PollTimeout:     cfg.Channel.PollTimeout,
		AllowedOrigins:  cfg.Channel.AllowedOrigins,
	})
	go chanServer.Run(ctx)

	obs := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready,
		observability.WithStatus(func() any {
			return map[string]any{
				"nodeId":       hub.NodeID(),
				"backboneMode": hub.Mode(),
				"sockets":      chanServer.Connections(),
				"provider":     gw.Stats(),
			}
		}))
	obs.Start()

	deps := http.Deps{
		Sessions: sessions,
		Channel:  chanServer,
		Ready:    application.Ready,
	}
	if transcriber != nil {
		deps.Transcriber = gw
	}
	httpServer := &nethttp.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           http.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	admin := grpcapi.New(m)
	go func() {
		if err := admin.Serve(lis); err != nil {
			log.Error().Err(err).Msg("Admin gRPC server stopped")
		}
	}()

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
	admin.SetServing(true)
	admin.SetChannelMode(hub.Mode())

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	application.Shutdown()
	admin.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	admin.Stop()
	chanServer.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	gw.Shutdown()
	if err := hub.Close(); err != nil {
		log.Warn().Err(err).Msg("Backbone close failed")
	}
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Publisher close failed")
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("Provider client close failed")
		}
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Session store close failed")
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close failed")
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown incomplete")
	}
	log.Info().Msg("Shutdown complete")
}

func buildStores(cfg *config.Configuration, rdb redis.UniversalClient, log zerolog.Logger) (session.Store, session.LiveTranscripts) {
	if rdb == nil {
		if cfg.Sessions.Store == "redis" {
			log.Warn().Msg("SESSION_STORE=redis without REDIS_URL, using memory store")
		}
		return session.NewMemoryStore(), session.NewMemoryLiveTranscripts(cfg.Sessions.CacheTTL)
	}
	live := session.NewRedisLiveTranscripts(rdb, cfg.Sessions.CacheTTL)
	if cfg.Sessions.Store == "redis" {
		return session.NewRedisStore(rdb, cfg.Sessions.TTL), live
	}
	return session.NewMemoryStore(), live
}

// buildProvider returns the live factory and, when the provider has one, the
// single-shot transcriber. Any provider that fails to initialize falls back to
// the mock so the channel stays usable.
func buildProvider(ctx context.Context, cfg *config.Configuration, log zerolog.Logger) (stt.Factory, stt.Transcriber, io.Closer) {
	switch cfg.STT.Provider {
	case "deepgram":
		dcfg := deepgram.Config{
			APIKey:  cfg.Deepgram.APIKey,
			LiveURL: cfg.Deepgram.LiveURL,
			RESTURL: cfg.Deepgram.RESTURL,
			Model:   cfg.Deepgram.Model,
		}
		factory, err := deepgram.NewFactory(dcfg)
		if err != nil {
			log.Warn().Err(err).Msg("Deepgram unavailable, falling back to mock provider")
			return mock.NewFactory(), nil, nil
		}
		rest, err := deepgram.NewRESTClient(dcfg, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Deepgram REST client unavailable, single-shot transcription disabled")
			return factory, nil, nil
		}
		return factory, rest, nil
	case "google":
		factory, closer, err := google.NewFactory(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Google STT unavailable, falling back to mock provider")
			return mock.NewFactory(), nil, nil
		}
		return factory, nil, closer
	default:
		return mock.NewFactory(), nil, nil
	}
}
