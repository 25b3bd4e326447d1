// Package portaudio implements a [capture.Source] on top of the native
// PortAudio capture API. The stream is opened on the default input device
// with low-latency parameters suited to voice capture.
package portaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/capture"
)

// DefaultFramesPerBuffer is the capture buffer size in samples. 1024 samples
// at 16 kHz is 64 ms per frame.
const DefaultFramesPerBuffer = 1024

// Compile-time interface assertion.
var _ capture.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithFramesPerBuffer sets the capture buffer size in samples. Default 1024.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// Source captures microphone audio through PortAudio.
type Source struct {
	framesPerBuffer int

	frames chan audio.Frame

	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a PortAudio capture source.
func New(opts ...Option) *Source {
	s := &Source{
		framesPerBuffer: DefaultFramesPerBuffer,
		frames:          make(chan audio.Frame, 8),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [capture.Source]. It initialises PortAudio, opens the
// default input device with low-latency voice parameters, and begins reading
// int16 buffers on a producer goroutine.
func (s *Source) Start(_ context.Context, format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("portaudio capture: already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio capture: %w: %v", capture.ErrUnavailable, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio capture: %w: %v", capture.ErrUnavailable, err)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = s.framesPerBuffer

	buf := make([]int16, s.framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio capture: %w: %v", capture.ErrUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("portaudio capture: %w: %v", capture.ErrUnavailable, err)
	}

	s.stream = stream
	s.started = true

	s.wg.Add(1)
	go s.pump(stream, buf, format)
	return nil
}

// Frames implements [capture.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Stop implements [capture.Source]. It stops and closes the stream, releases
// PortAudio, and closes the frame channel. The device must be released
// explicitly — PortAudio holds it until Terminate.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		stream := s.stream
		started := s.started
		s.mu.Unlock()

		if stream != nil {
			stream.Stop()
			stream.Close()
		}
		if started {
			portaudio.Terminate()
		}
		close(s.frames)
	})
}

func (s *Source) pump(stream *portaudio.Stream, buf []int16, format audio.Format) {
	defer s.wg.Done()

	var elapsed time.Duration
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Overflow is recoverable; anything else ends the stream.
			if err == portaudio.InputOverflowed {
				continue
			}
			return
		}

		// The vendor buffer is reused by the next Read; frames own their
		// data, so serialise a copy.
		frame := audio.Frame{
			Data:      audio.Int16ToBytes(buf),
			Format:    format,
			Timestamp: elapsed,
		}
		elapsed += frame.Duration()

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}
