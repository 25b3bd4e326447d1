// Package graph implements the chunk-streaming [playback.Player] variant.
//
// Raw PCM16 payloads are converted to float32 and queued FIFO; the scheduler
// starts the next queued chunk from inside the completion callback of the
// previous one, which is what makes playback gapless — there is no poll or
// timer between chunks. Self-contained WAV payloads are decoded and played
// as one-shot clips outside the queue.
package graph

import (
	"fmt"
	"sync"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/playback"
)

// Compile-time interface assertion.
var _ playback.Player = (*Scheduler)(nil)

// Device is the output side of the audio graph. Play renders one chunk and
// invokes done exactly once when rendering completes. Implementations decide
// whether done runs synchronously or on a device goroutine; the scheduler
// handles both.
type Device interface {
	Play(chunk []float32, format audio.Format, done func()) error

	// Stop aborts any in-flight chunk. Its done callback must still fire
	// (or be abandoned — the scheduler tolerates either once closed).
	Stop()

	// Close releases the output device.
	Close() error
}

// Scheduler is the gapless FIFO playback engine.
type Scheduler struct {
	device Device
	format audio.Format

	mu       sync.Mutex
	queue    [][]float32
	playing  bool // a queued chunk is currently rendering
	oneShots int  // independent container clips currently rendering
	closed   bool
}

// New creates a Scheduler rendering through device. Raw PCM16 payloads are
// interpreted in the given format.
func New(device Device, format audio.Format) *Scheduler {
	return &Scheduler{device: device, format: format}
}

// Play implements [playback.Player]. Container payloads are decoded and
// rendered as independent one-shot clips; raw payloads enter the FIFO queue.
func (s *Scheduler) Play(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	if audio.IsContainer(payload) {
		samples, f, err := audio.DecodeWAV(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", playback.ErrDecode, err)
		}
		return s.playClip(audio.Int16ToFloat32(samples), f)
	}

	chunk := audio.Int16ToFloat32(audio.BytesToInt16(payload))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("graph playback: closed")
	}
	s.queue = append(s.queue, chunk)
	if s.playing {
		// The running chunk's completion callback will pick this up.
		s.mu.Unlock()
		return nil
	}
	s.playing = true
	s.mu.Unlock()

	s.advance()
	return nil
}

// playClip renders a decoded container as a one-shot clip, bypassing the
// queue.
func (s *Scheduler) playClip(clip []float32, format audio.Format) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("graph playback: closed")
	}
	s.oneShots++
	s.mu.Unlock()

	err := s.device.Play(clip, format, func() {
		s.mu.Lock()
		s.oneShots--
		s.mu.Unlock()
	})
	if err != nil {
		s.mu.Lock()
		s.oneShots--
		s.mu.Unlock()
		return fmt.Errorf("graph playback: clip: %w", err)
	}
	return nil
}

// advance pops the queue head and hands it to the device. The chunk's
// completion callback calls advance again, so consecutive chunks chain with
// zero gap. When the queue is empty the scheduler goes idle.
func (s *Scheduler) advance() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.playing = false
			s.mu.Unlock()
			return
		}
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.device.Play(chunk, s.format, s.advance); err == nil {
			return
		}
		// Device rejected the chunk: drop it and try the next.
	}
}

// IsPlaying implements [playback.Player].
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing || s.oneShots > 0
}

// QueueLen reports the number of chunks waiting behind the one currently
// rendering. Exposed for observability.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close implements [playback.Player]. Queued-but-unplayed chunks are dropped;
// the in-flight chunk is aborted.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.playing = false
	s.oneShots = 0
	s.mu.Unlock()

	s.device.Stop()
	return s.device.Close()
}
