// Package capture is the client side of the pipeline: it reads PCM from a
// capture device, streams fixed-size frames over one provider link per
// session, runs every result through a Normalizer, raises an Update for each
// accepted fragment and delivers accepted finals to the session aggregate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/service/normalizer"
	"speech-coach-service/internal/service/stt"
)

var (
	// ErrPermissionDenied is returned when the device refuses access.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrUnsupportedDevice is returned when there is no usable capture device.
	ErrUnsupportedDevice = errors.New("capture device unsupported")
	// ErrAlreadyActive is returned by Start while a capture is running.
	ErrAlreadyActive = errors.New("capture already active")
	// ErrProviderConnectionFailed is returned when the provider link cannot be opened.
	ErrProviderConnectionFailed = errors.New("provider connection failed")
)

const (
	// DefaultFrameDuration is the amount of audio sent per frame.
	DefaultFrameDuration = 250 * time.Millisecond
	// DefaultRetryInterval spaces delivery retries of buffered finals.
	DefaultRetryInterval = 2 * time.Second

	updateQueueLen = 128
	stopFlushWait  = 5 * time.Second
)

// Update is one accepted, cleaned fragment.
type Update struct {
	Text       string
	IsFinal    bool
	Confidence float64
	At         time.Time
}

// Config tunes a Client.
type Config struct {
	Language      string
	Constraints   Constraints
	FrameDuration time.Duration
	RetryInterval time.Duration
	// Metrics receives normalizer decisions. Nil uses the default registry.
	Metrics *metrics.Metrics
}

// DefaultConfig returns English, mono 16 kHz, 250 ms frames.
func DefaultConfig() Config {
	return Config{
		Language:      "en",
		Constraints:   DefaultConstraints(),
		FrameDuration: DefaultFrameDuration,
		RetryInterval: DefaultRetryInterval,
	}
}

// Client runs at most one capture at a time.
type Client struct {
	device   Device
	dialer   Dialer
	delivery Delivery
	cfg      Config
	log      zerolog.Logger

	norm    *normalizer.Normalizer
	buffer  Buffer
	updates chan Update
	flush   chan struct{}

	mu        sync.Mutex
	active    bool
	sessionID string
	stream    Stream
	link      stt.Adapter
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a client. delivery may be nil, in which case finals are only
// buffered.
func New(device Device, dialer Dialer, delivery Delivery, cfg Config, opts ...normalizer.Option) *Client {
	def := DefaultConfig()
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Constraints == (Constraints{}) {
		cfg.Constraints = def.Constraints
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	return &Client{
		device:   device,
		dialer:   dialer,
		delivery: delivery,
		cfg:      cfg,
		log:      logging.WithComponent("capture"),
		norm:     normalizer.New(opts...),
		updates:  make(chan Update, updateQueueLen),
		flush:    make(chan struct{}, 1),
	}
}

// Updates delivers accepted fragments. It is never closed.
func (c *Client) Updates() <-chan Update { return c.updates }

// Active reports whether a capture is running.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Pending returns the finals not yet acknowledged by the server.
func (c *Client) Pending() []models.TranscriptChunk { return c.buffer.Pending() }

// Start opens the device and the provider link and begins streaming.
func (c *Client) Start(ctx context.Context, sessionID, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrAlreadyActive
	}
	if c.device == nil {
		return fmt.Errorf("%w: no capture device", ErrUnsupportedDevice)
	}

	stream, err := c.device.Open(ctx, c.cfg.Constraints)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrUnsupportedDevice) {
			err = fmt.Errorf("%w: %v", ErrUnsupportedDevice, err)
		}
		return err
	}

	opts := stt.DefaultStreamOptions(c.cfg.Language)
	opts.SessionID = sessionID
	opts.SampleRateHz = stream.SampleRate()
	link, err := c.dialer.Dial(sessionID, credential, opts)
	if err != nil {
		stream.Close()
		return fmt.Errorf("%w: %v", ErrProviderConnectionFailed, err)
	}

	c.norm.Reset()
	c.buffer.Reset()
	c.sessionID = sessionID
	c.active = true
	if err := link.Start(ctx, c); err != nil {
		c.active = false
		c.sessionID = ""
		stream.Close()
		return fmt.Errorf("%w: %v", ErrProviderConnectionFailed, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stream = stream
	c.link = link
	c.cancel = cancel

	frameBytes := int(float64(stream.SampleRate()*2) * c.cfg.FrameDuration.Seconds())
	c.wg.Add(1)
	go c.pump(runCtx, stream, link, frameBytes)
	if c.delivery != nil {
		c.wg.Add(1)
		go c.deliver(runCtx, sessionID)
	}

	c.log.Info().
		Str("sessionId", sessionID).
		Int("sampleRate", stream.SampleRate()).
		Int("frameBytes", frameBytes).
		Msg("Capture started")
	return nil
}

// Stop ends the capture. It is a no-op when nothing is running. Buffered
// finals get one last delivery attempt before every buffer is cleared.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	sessionID, stream, link, cancel := c.sessionID, c.stream, c.link, c.cancel
	c.sessionID, c.stream, c.link, c.cancel = "", nil, nil, nil
	c.mu.Unlock()

	cancel()
	var errs []error
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close device: %w", err))
	}
	if err := link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close provider link: %w", err))
	}
	c.wg.Wait()

	if c.delivery != nil && c.buffer.Len() > 0 {
		ctx, done := context.WithTimeout(context.Background(), stopFlushWait)
		if err := c.buffer.Flush(ctx, sessionID, c.delivery); err != nil {
			c.log.Warn().Err(err).Str("sessionId", sessionID).Int("pending", c.buffer.Len()).
				Msg("Dropping undelivered transcript chunks")
		}
		done()
	}
	c.buffer.Reset()
	c.norm.Reset()

	c.log.Info().Str("sessionId", sessionID).Msg("Capture stopped")
	return errors.Join(errs...)
}

// pump reads fixed frames and sends them without waiting for any result.
func (c *Client) pump(ctx context.Context, stream Stream, link stt.Adapter, frameBytes int) {
	defer c.wg.Done()
	for {
		frame := make([]byte, frameBytes)
		n, err := io.ReadFull(stream, frame)
		if n > 0 {
			if sendErr := link.SendAudio(ctx, frame[:n]); sendErr != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn().Err(sendErr).Msg("Failed to send audio frame")
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			c.log.Info().Msg("Capture source exhausted")
			return
		default:
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("Capture read failed")
			}
			return
		}
	}
}

func (c *Client) deliver(ctx context.Context, sessionID string) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.flush:
		case <-ticker.C:
		}
		if c.buffer.Len() == 0 {
			continue
		}
		if err := c.buffer.Flush(ctx, sessionID, c.delivery); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Int("pending", c.buffer.Len()).Msg("Transcript delivery failed, will retry")
		}
	}
}

// OnPartial implements stt.Callback.
func (c *Client) OnPartial(text string, confidence float64) { c.handle(text, confidence, false) }

// OnFinal implements stt.Callback.
func (c *Client) OnFinal(text string, confidence float64) { c.handle(text, confidence, true) }

// OnError implements stt.Callback. The link is gone; streaming stops but the
// capture stays active until Stop.
func (c *Client) OnError(err error) {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	c.log.Error().Err(err).Msg("Provider link failed")
	if cancel != nil {
		cancel()
	}
}

func (c *Client) handle(text string, confidence float64, isFinal bool) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}

	f, ok := c.norm.Accept(normalizer.Fragment{Text: text, IsFinal: isFinal, Confidence: confidence})
	c.cfg.Metrics.RecordNormalizer(isFinal, ok)
	if !ok {
		return
	}
	if f.IsFinal {
		c.buffer.Add(models.TranscriptChunk{
			Text:       f.Text,
			Timestamp:  f.At,
			IsFinal:    true,
			Confidence: f.Confidence,
		})
		select {
		case c.flush <- struct{}{}:
		default:
		}
	}

	u := Update{Text: f.Text, IsFinal: f.IsFinal, Confidence: f.Confidence, At: f.At}
	select {
	case c.updates <- u:
	default:
		c.log.Warn().Bool("isFinal", u.IsFinal).Msg("Update queue full, update dropped")
	}
}
