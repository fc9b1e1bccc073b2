// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
	Service    string
}

// DefaultConfig returns JSON output at info level, the service default.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
		Service:    "speech-coach-service",
	}
}

// CLIConfig is DefaultConfig with console output for the command-line tools.
func CLIConfig(service string) Config {
	cfg := DefaultConfig()
	cfg.Format = "console"
	cfg.Service = service
	return cfg
}

// Init initializes the global zerolog logger. ZEROLOG_LOG_LEVEL, when set,
// overrides the configured level.
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = cfg.TimeFormat
	if cfg.TimeFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	levelName := cfg.Level
	if env := os.Getenv("ZEROLOG_LOG_LEVEL"); env != "" {
		levelName = env
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// WithSession returns a logger with session and tenant context.
func WithSession(sessionID, organizationID string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionID).
		Str("organizationId", organizationID).
		Logger()
}

// WithSocket returns a logger tagged with a channel socket id.
func WithSocket(socketID string) zerolog.Logger {
	return log.With().
		Str("component", "channel").
		Str("socketId", socketID).
		Logger()
}

// WithProvider returns a logger with provider connection context.
func WithProvider(sessionID, provider string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionID).
		Str("sttProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
