package config

import (
	"os"
	"testing"
	"time"
)

var configEnvVars = []string{
	"SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "LOG_LEVEL",
	"STT_PROVIDER", "STT_LANGUAGE", "STT_SAMPLE_RATE_HZ",
	"STT_INTERIM_RESULTS", "STT_ENCODING", "STT_RESULT_TIMEOUT",
	"REDIS_URL", "REDIS_CONNECT_TIMEOUT", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
	"CHANNEL_MAX_MESSAGE_BYTES", "AUDIO_WARN_CHUNK_BYTES", "SESSION_STORE",
}

func clearEnv() {
	for _, v := range configEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-speech-coach" {
		t.Errorf("expected default principal 'svc-speech-coach', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "3001" {
		t.Errorf("expected default http port '3001', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default grpc port '50051', got %s", cfg.Service.GRPCPort)
	}

	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.Language != "en" {
		t.Errorf("expected default language 'en', got %s", cfg.STT.Language)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.ResultTimeout != 5*time.Second {
		t.Errorf("expected default result timeout 5s, got %v", cfg.STT.ResultTimeout)
	}

	if cfg.Redis.URL != "" {
		t.Errorf("expected empty redis url (single-instance mode), got %s", cfg.Redis.URL)
	}
	if cfg.Channel.MaxMessageBytes != 100*1024*1024 {
		t.Errorf("expected 100MB max message, got %d", cfg.Channel.MaxMessageBytes)
	}
	if cfg.Channel.WarnChunkBytes != 10240 {
		t.Errorf("expected 10KB chunk warning threshold, got %d", cfg.Channel.WarnChunkBytes)
	}
	if cfg.Sessions.Store != "memory" {
		t.Errorf("expected memory session store, got %s", cfg.Sessions.Store)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("HTTP_PORT", "8080")
	os.Setenv("LOG_LEVEL", "DEBUG")
	os.Setenv("STT_PROVIDER", "Deepgram")
	os.Setenv("STT_LANGUAGE", "es")
	os.Setenv("STT_SAMPLE_RATE_HZ", "48000")
	os.Setenv("STT_RESULT_TIMEOUT", "2s")
	os.Setenv("REDIS_URL", "redis://cache:6379/0")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	os.Setenv("SESSION_STORE", "redis")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.STT.Provider != "deepgram" {
		t.Errorf("expected provider lower-cased to 'deepgram', got %s", cfg.STT.Provider)
	}
	if cfg.STT.Language != "es" {
		t.Errorf("expected language 'es', got %s", cfg.STT.Language)
	}
	if cfg.STT.SampleRateHz != 48000 {
		t.Errorf("expected sample rate 48000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.ResultTimeout != 2*time.Second {
		t.Errorf("expected result timeout 2s, got %v", cfg.STT.ResultTimeout)
	}
	if cfg.Redis.URL != "redis://cache:6379/0" {
		t.Errorf("unexpected redis url %s", cfg.Redis.URL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Sessions.Store != "redis" {
		t.Errorf("expected redis store, got %s", cfg.Sessions.Store)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("STT_INTERIM_RESULTS", "invalid")
	os.Setenv("STT_RESULT_TIMEOUT", "invalid")
	os.Setenv("REDIS_CONNECT_TIMEOUT", "soon")
	os.Setenv("AUDIO_WARN_CHUNK_BYTES", "big")
	defer clearEnv()

	cfg := Load()

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != true {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.STT.InterimResults)
	}
	if cfg.STT.ResultTimeout != 5*time.Second {
		t.Errorf("expected default result timeout on invalid input, got %v", cfg.STT.ResultTimeout)
	}
	if cfg.Redis.ConnectTimeout != 3*time.Second {
		t.Errorf("expected default redis connect timeout on invalid input, got %v", cfg.Redis.ConnectTimeout)
	}
	if cfg.Channel.WarnChunkBytes != 10240 {
		t.Errorf("expected default warn size on invalid input, got %d", cfg.Channel.WarnChunkBytes)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv()

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	key := "TEST_LIST_VAR"
	defer os.Unsetenv(key)

	os.Setenv(key, " , ,")
	if got := envOrDefaultList(key, []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("expected default for blank list, got %v", got)
	}

	os.Setenv(key, "a,b")
	if got := envOrDefaultList(key, nil); len(got) != 2 {
		t.Errorf("expected two entries, got %v", got)
	}
}
