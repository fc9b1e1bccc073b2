package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		name  string
		level string
		env   string
		want  zerolog.Level
	}{
		{"configured", "warn", "", zerolog.WarnLevel},
		{"empty defaults to info", "", "", zerolog.InfoLevel},
		{"invalid defaults to info", "loud", "", zerolog.InfoLevel},
		{"env overrides", "warn", "debug", zerolog.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ZEROLOG_LOG_LEVEL", tt.env)
			Init(Config{Level: tt.level})
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("got level %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCLIConfig(t *testing.T) {
	cfg := CLIConfig("audioclient")
	if cfg.Format != "console" || cfg.Service != "audioclient" || cfg.Level != "info" {
		t.Errorf("unexpected config %+v", cfg)
	}
}
