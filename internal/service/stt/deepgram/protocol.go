// Package deepgram implements the Deepgram live WebSocket adapter and the
// single-shot REST transcriber.
package deepgram

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"speech-coach-service/internal/service/stt"
)

const (
	DefaultLiveURL = "wss://api.deepgram.com/v1/listen"
	DefaultRESTURL = "https://api.deepgram.com/v1/listen"
	DefaultModel   = "nova-2"

	messageTypeResults = "Results"
)

// liveResponse is the subset of a live message the adapter reads.
type liveResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// restResponse is the prerecorded response envelope.
type restResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// ParseLive decodes one live message. ok is false for non-Results messages
// (Metadata, SpeechStarted, UtteranceEnd) and for results without alternatives.
func ParseLive(data []byte) (res stt.Result, ok bool, err error) {
	var msg liveResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.Result{}, false, err
	}
	if msg.Type != messageTypeResults || len(msg.Channel.Alternatives) == 0 {
		return stt.Result{}, false, nil
	}
	alt := msg.Channel.Alternatives[0]
	return stt.Result{
		Transcript: strings.TrimSpace(alt.Transcript),
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	}, true, nil
}

// LiveQuery builds the query string for a live connection.
func LiveQuery(model string, opts stt.StreamOptions) url.Values {
	if model == "" {
		model = DefaultModel
	}
	q := url.Values{}
	q.Set("model", model)
	q.Set("language", opts.Language)
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("smart_format", strconv.FormatBool(opts.SmartFormat))
	q.Set("vad_events", strconv.FormatBool(opts.VADEvents))
	if opts.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(opts.EndpointingMs))
	} else {
		q.Set("endpointing", "true")
	}
	if opts.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMs))
	}
	// Raw PCM needs the container parameters; compressed formats carry their own.
	if enc := strings.ToLower(opts.Encoding); enc == "linear16" || enc == "pcm" {
		q.Set("encoding", "linear16")
		if opts.SampleRateHz > 0 {
			q.Set("sample_rate", strconv.Itoa(opts.SampleRateHz))
		}
		q.Set("channels", "1")
	}
	return q
}
