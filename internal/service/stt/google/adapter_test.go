package google

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"speech-coach-service/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfigFromOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     stt.StreamOptions
		language string
		rate     int
		encoding string
	}{
		{"session defaults", stt.DefaultStreamOptions("en"), "en-US", 16000, "LINEAR16"},
		{"spanish", stt.DefaultStreamOptions("es-ES"), "es-ES", 16000, "LINEAR16"},
		{"empty keeps defaults", stt.StreamOptions{}, "en-US", 8000, "LINEAR16"},
		{"mulaw", stt.StreamOptions{Language: "en-GB", SampleRateHz: 8000, Encoding: "mulaw"}, "en-GB", 8000, "MULAW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigFromOptions(tt.opts)
			if cfg.LanguageCode != tt.language {
				t.Errorf("expected language %s, got %s", tt.language, cfg.LanguageCode)
			}
			if cfg.SampleRateHz != tt.rate {
				t.Errorf("expected sample rate %d, got %d", tt.rate, cfg.SampleRateHz)
			}
			if cfg.AudioEncoding != tt.encoding {
				t.Errorf("expected encoding %s, got %s", tt.encoding, cfg.AudioEncoding)
			}
			if cfg.InterimResults != tt.opts.InterimResults {
				t.Errorf("expected interim results %v, got %v", tt.opts.InterimResults, cfg.InterimResults)
			}
		})
	}
}

func TestParseAudioEncoding_CaseSensitive(t *testing.T) {
	// Encoding strings should be uppercase
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"Linear16", speechpb.RecognitionConfig_LINEAR16}, // mixed case -> fallback
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16}, // uppercase -> match
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
