// Package google provides a Google Cloud Speech-to-Text streaming adapter.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"speech-coach-service/internal/service/stt"
)

// Config holds recognition settings for one stream.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string // LINEAR16, MULAW, FLAC, ...
	Punctuate      bool
}

// DefaultConfig returns telephony-grade defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// ConfigFromOptions maps session stream options onto a Google config.
func ConfigFromOptions(opts stt.StreamOptions) Config {
	cfg := DefaultConfig()
	if opts.Language != "" {
		cfg.LanguageCode = languageCode(opts.Language)
	}
	if opts.SampleRateHz > 0 {
		cfg.SampleRateHz = opts.SampleRateHz
	}
	if opts.Encoding != "" {
		cfg.AudioEncoding = strings.ToUpper(opts.Encoding)
	}
	cfg.InterimResults = opts.InterimResults
	cfg.Punctuate = opts.Punctuate
	return cfg
}

// languageCode expands bare "en" to "en-US"; other tags pass through.
func languageCode(lang string) string {
	if lang == "en" {
		return "en-US"
	}
	return lang
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	cancel context.CancelFunc
}

// NewFactory returns an stt.Factory sharing one Speech client across sessions.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func NewFactory(ctx context.Context) (stt.Factory, io.Closer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	factory := func(opts stt.StreamOptions) (stt.Adapter, error) {
		return &Adapter{client: c, cfg: ConfigFromOptions(opts)}, nil
	}
	return factory, c, nil
}

// Start begins a streaming recognition session, sends the initial config and
// starts the receive loop.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	// The stream outlives the dial context; Close cancels it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := a.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.cancel = cancel
	a.mu.Unlock()

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            int32(a.cfg.SampleRateHz),
					LanguageCode:               a.cfg.LanguageCode,
					EnableAutomaticPunctuation: a.cfg.Punctuate,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return err
	}

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return errors.New("google stream not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close ends the streaming session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream, cancel := a.stream, a.cancel
	a.stream, a.cancel, a.cb = nil, nil, nil
	a.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.CloseSend()
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// listen receives responses and invokes callbacks until the stream ends.
// Interim results carry stability, not confidence, so stability is reported.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if a.active(stream) && !errors.Is(err, io.EOF) {
				cb.OnError(err)
			}
			return
		}
		if !a.active(stream) {
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				cb.OnFinal(alt.Transcript, float64(alt.Confidence))
			} else {
				cb.OnPartial(alt.Transcript, float64(r.Stability))
			}
		}
	}
}

func (a *Adapter) active(stream speechpb.Speech_StreamingRecognizeClient) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream == stream
}

// parseAudioEncoding maps an upper-case encoding name to the Speech enum,
// falling back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && name != "ENCODING_UNSPECIFIED" {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}
