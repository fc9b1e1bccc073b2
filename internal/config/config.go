// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Deepgram      DeepgramConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Channel       ChannelConfig
	Sessions      SessionConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal   string
	Environment string
	HTTPPort    string
	GRPCPort    string
}

// STTConfig selects and tunes the speech-to-text provider.
type STTConfig struct {
	Provider       string // deepgram, google, mock
	Language       string
	SampleRateHz   int
	Encoding       string
	InterimResults bool
	ResultTimeout  time.Duration
	ConnectTimeout time.Duration
}

// DeepgramConfig holds Deepgram endpoints and credentials.
type DeepgramConfig struct {
	APIKey  string
	LiveURL string
	RESTURL string
	Model   string
}

// RedisConfig configures the pub/sub backbone and the Redis stores.
type RedisConfig struct {
	URL            string
	ConnectTimeout time.Duration
	ChannelPrefix  string
}

// KafkaConfig configures the transcript event publisher.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// ChannelConfig tunes the real-time session event channel.
type ChannelConfig struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	PollTimeout     time.Duration
	WarnChunkBytes  int
	AllowedOrigins  []string
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Store    string // memory, redis
	TTL      time.Duration
	CacheTTL time.Duration
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() *Configuration {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-coach")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			Environment: envOrDefault("ENV", "production"),
			HTTPPort:    envOrDefault("HTTP_PORT", "3001"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
		},
		STT: STTConfig{
			Provider:       strings.ToLower(envOrDefault("STT_PROVIDER", "mock")),
			Language:       envOrDefault("STT_LANGUAGE", "en"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			Encoding:       envOrDefault("STT_ENCODING", "linear16"),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			ResultTimeout:  envOrDefaultDuration("STT_RESULT_TIMEOUT", 5*time.Second),
			ConnectTimeout: envOrDefaultDuration("STT_CONNECT_TIMEOUT", 10*time.Second),
		},
		Deepgram: DeepgramConfig{
			APIKey:  os.Getenv("DEEPGRAM_API_KEY"),
			LiveURL: envOrDefault("DEEPGRAM_LIVE_URL", "wss://api.deepgram.com/v1/listen"),
			RESTURL: envOrDefault("DEEPGRAM_REST_URL", "https://api.deepgram.com/v1/listen"),
			Model:   envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		},
		Redis: RedisConfig{
			URL:            os.Getenv("REDIS_URL"),
			ConnectTimeout: envOrDefaultDuration("REDIS_CONNECT_TIMEOUT", 3*time.Second),
			ChannelPrefix:  envOrDefault("REDIS_CHANNEL_PREFIX", "speech-coach"),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "session.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "session.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Channel: ChannelConfig{
			MaxMessageBytes: int64(envOrDefaultInt("CHANNEL_MAX_MESSAGE_BYTES", 100*1024*1024)),
			PingInterval:    envOrDefaultDuration("CHANNEL_PING_INTERVAL", 25*time.Second),
			PollTimeout:     envOrDefaultDuration("CHANNEL_POLL_TIMEOUT", 25*time.Second),
			WarnChunkBytes:  envOrDefaultInt("AUDIO_WARN_CHUNK_BYTES", 10240),
			AllowedOrigins:  envOrDefaultList("FRONTEND_URL", []string{"http://localhost:3000"}),
		},
		Sessions: SessionConfig{
			Store:    strings.ToLower(envOrDefault("SESSION_STORE", "memory")),
			TTL:      envOrDefaultDuration("SESSION_TTL", 24*time.Hour),
			CacheTTL: envOrDefaultDuration("SESSION_TRANSCRIPT_CACHE_TTL", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:    strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
