package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		event   string
		wantErr bool
	}{
		{"with data", `{"event":"join-session","data":"S1"}`, EventJoinSession, false},
		{"without data", `{"event":"ping"}`, EventPing, false},
		{"missing event", `{"data":{}}`, "", true},
		{"not json", `join-session`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, env.Event)
		})
	}
}

func TestSessionIDFrom(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"S1"`, "S1"},
		{`" S1 "`, "S1"},
		{`{"sessionId":"S2"}`, "S2"},
		{`{}`, ""},
	}
	for _, tt := range tests {
		got, err := sessionIDFrom(json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := sessionIDFrom(json.RawMessage(`42`))
	assert.Error(t, err)
}

func TestAudioChunkBase64(t *testing.T) {
	frame, err := Encode(EventAudioChunk, AudioChunkRequest{SessionID: "S1", Chunk: []byte{0x00, 0xff, 0x10}})
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"chunk":"AP8Q"`)

	env, err := Decode(frame)
	require.NoError(t, err)
	var req AudioChunkRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, req.Chunk)
}

func TestErrorEventFor(t *testing.T) {
	tests := map[string]string{
		EventAudioChunk:       EventAudioError,
		EventStartRecording:   EventRecordingError,
		EventResumeRecording:  EventRecordingError,
		EventGetTranscript:    EventTranscriptError,
		EventTranscriptUpdate: EventTranscriptError,
		EventJoinSession:      EventError,
		"anything":            EventError,
	}
	for in, want := range tests {
		assert.Equal(t, want, errorEventFor(in), in)
	}
}

func TestConnectBackbone_UnreachableFallsBackToLocal(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	b := ConnectBackbone(context.Background(), client, "test", 500*time.Millisecond, testLogger(), testMetrics)
	assert.Equal(t, ModeLocal, b.Mode())
}
