package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"speech-coach-service/internal/service/audio"
)

// Constraints are what the client asks of a capture device.
type Constraints struct {
	Channels         int
	SampleRateHz     int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints asks for mono 16 kHz with echo cancellation and noise
// suppression.
func DefaultConstraints() Constraints {
	return Constraints{
		Channels:         1,
		SampleRateHz:     16000,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Stream is an open capture yielding 16-bit little-endian PCM.
type Stream interface {
	io.Reader
	// SampleRate is the rate actually delivered, which may differ from the
	// requested one.
	SampleRate() int
	Close() error
}

// Device opens capture streams. Implementations return ErrPermissionDenied
// when access is refused and ErrUnsupportedDevice when they cannot deliver
// mono 16-bit PCM.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// WAVDevice replays a 16-bit mono PCM WAV file as if it were a microphone.
// Processing options in the constraints are accepted and ignored.
type WAVDevice struct {
	Path string
	// Realtime paces reads to the file's sample rate.
	Realtime bool
}

// Open opens the file and positions the stream at the first sample.
func (d WAVDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	f, err := os.Open(d.Path)
	if errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDevice, err)
	}

	format, err := audio.ReadWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDevice, err)
	}
	if format.Channels != 1 {
		f.Close()
		return nil, fmt.Errorf("%w: %d channels, need mono", ErrUnsupportedDevice, format.Channels)
	}

	var r io.Reader = f
	if format.DataSize > 0 {
		r = io.LimitReader(f, format.DataSize)
	}
	s := &wavStream{
		r:          r,
		file:       f,
		sampleRate: format.SampleRateHz,
		ctx:        ctx,
	}
	if d.Realtime {
		s.bytesPerSecond = float64(format.SampleRateHz * 2)
		s.start = time.Now()
	}
	return s, nil
}

type wavStream struct {
	r          io.Reader
	file       *os.File
	sampleRate int
	ctx        context.Context

	bytesPerSecond float64
	start          time.Time
	delivered      int64

	closeOnce sync.Once
}

func (s *wavStream) SampleRate() int { return s.sampleRate }

// Read blocks until the wall clock has caught up with the audio already
// delivered, so a realtime stream never runs ahead of the speaker.
func (s *wavStream) Read(p []byte) (int, error) {
	if s.bytesPerSecond > 0 {
		due := s.start.Add(time.Duration(float64(s.delivered) / s.bytesPerSecond * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
				return 0, s.ctx.Err()
			}
		}
	}
	n, err := s.r.Read(p)
	s.delivered += int64(n)
	return n, err
}

func (s *wavStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.file.Close() })
	return err
}
