// Package graph implements a [capture.Source] as a small audio processing
// graph: a source node wrapping a microphone media stream, a fixed-size
// float32 block processor, and a destination sink.
//
// The sink connection does not route audio anywhere. It exists solely to
// drive the block processor's callback scheduling — a hold-over from
// audio-graph execution models where an unconnected processor is never
// invoked. Disconnecting the processor from the sink is therefore the way
// capture is halted.
//
// Media access is abstracted behind [MediaStream] so the graph can run
// against any float32 sample producer, including test fakes.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/capture"
)

// DefaultBlockSize is the number of float32 samples the block processor
// consumes per callback. 4096 samples at 16 kHz is 256 ms per frame.
const DefaultBlockSize = 4096

// Compile-time interface assertion.
var _ capture.Source = (*Source)(nil)

// MediaStream is an open microphone stream delivering float32 samples in the
// range [-1, 1].
type MediaStream interface {
	// Read fills block with samples, blocking until at least one sample is
	// available. It returns the number of samples written, or an error once
	// the stream ends or StopTracks has been called.
	Read(block []float32) (int, error)

	// StopTracks releases the underlying device. Any blocked Read returns
	// an error afterwards.
	StopTracks()
}

// OpenStreamFunc requests microphone access and returns an open stream.
// Returning an error means the device is unavailable (permission denied or
// busy).
type OpenStreamFunc func(ctx context.Context, format audio.Format) (MediaStream, error)

// Option configures a [Source].
type Option func(*Source)

// WithBlockSize sets the processor block size in samples. Default 4096.
func WithBlockSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// Source is the audio-graph capture variant.
type Source struct {
	open      OpenStreamFunc
	blockSize int

	frames chan audio.Frame

	mu      sync.Mutex
	stream  MediaStream
	proc    *processorNode
	started bool

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a graph capture source that acquires its media stream through
// open.
func New(open OpenStreamFunc, opts ...Option) *Source {
	s := &Source{
		open:      open,
		blockSize: DefaultBlockSize,
		frames:    make(chan audio.Frame, 8),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [capture.Source]. It requests the media stream, builds the
// node graph (source → processor → destination), and begins pumping blocks.
func (s *Source) Start(ctx context.Context, format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("graph capture: already started")
	}

	stream, err := s.open(ctx, format)
	if err != nil {
		return fmt.Errorf("graph capture: %w: %v", capture.ErrUnavailable, err)
	}

	proc := &processorNode{blockSize: s.blockSize}
	// Connecting to the destination is what makes the processor callback
	// fire; no audio flows to the sink.
	proc.connect(&destinationNode{})

	s.stream = stream
	s.proc = proc
	s.started = true

	s.wg.Add(1)
	go s.pump(stream, proc, format)
	return nil
}

// Frames implements [capture.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Stop implements [capture.Source]. It disconnects the graph nodes, stops
// the media stream tracks, and waits for the pump goroutine to drain before
// closing the frame channel.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		stream := s.stream
		proc := s.proc
		s.mu.Unlock()

		if proc != nil {
			proc.disconnect()
		}
		close(s.done)
		if stream != nil {
			stream.StopTracks()
		}
		s.wg.Wait()
		close(s.frames)
	})
}

// pump runs the processor callback loop: while the processor is connected to
// its sink, read one block from the stream, convert it, and emit a frame.
func (s *Source) pump(stream MediaStream, proc *processorNode, format audio.Format) {
	defer s.wg.Done()

	block := make([]float32, s.blockSize)
	var elapsed time.Duration

	for proc.connected() {
		n, err := stream.Read(block)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		samples := audio.Float32ToInt16(block[:n])
		frame := audio.Frame{
			Data:      audio.Int16ToBytes(samples),
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

// processorNode is the fixed-size block processor. Its callback runs only
// while connected to a sink.
type processorNode struct {
	blockSize int

	mu   sync.Mutex
	sink *destinationNode
}

func (p *processorNode) connect(sink *destinationNode) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *processorNode) disconnect() {
	p.mu.Lock()
	p.sink = nil
	p.mu.Unlock()
}

func (p *processorNode) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}

// destinationNode is the graph sink. It discards everything; it exists so
// the processor has something to be connected to.
type destinationNode struct{}
