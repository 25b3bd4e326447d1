// Package portaudio implements audio output through the native PortAudio
// API. It provides two things:
//
//   - [Player], the whole-clip [playback.Player] variant: every response
//     payload is rendered as one independent playback unit, with completion
//     surfaced through a status callback. No sub-clip gapless queueing.
//   - [Device], a [graph.Device] adapter so the gapless chunk scheduler can
//     render through PortAudio as well.
package portaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/playback"
	"github.com/shgupte/sous/pkg/audio/playback/graph"
)

// framesPerWrite is the output buffer size in samples per stream write.
const framesPerWrite = 1024

// Compile-time interface assertions.
var (
	_ playback.Player = (*Player)(nil)
	_ graph.Device    = (*Device)(nil)
)

// clip is one render job. start and done bracket the actual rendering, both
// invoked from the render goroutine.
type clip struct {
	samples []int16
	format  audio.Format
	start   func()
	done    func()
}

// out owns the PortAudio output stream shared by Player and Device. It runs
// a single render goroutine; clips are rendered sequentially.
type out struct {
	format audio.Format

	jobs    chan clip
	abort   atomic.Bool // aborts the clip currently being written
	playing atomic.Bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	inited bool
}

func newOut(format audio.Format) *out {
	o := &out{
		format: format,
		jobs:   make(chan clip, 16),
		done:   make(chan struct{}),
	}
	o.wg.Add(1)
	go o.render()
	return o
}

// enqueue schedules samples for rendering. Never blocks on audio output;
// returns an error when the render queue is saturated.
func (o *out) enqueue(c clip) error {
	select {
	case <-o.done:
		return fmt.Errorf("portaudio playback: closed")
	default:
	}
	select {
	case o.jobs <- c:
		return nil
	default:
		return fmt.Errorf("portaudio playback: render queue full")
	}
}

func (o *out) render() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case c := <-o.jobs:
			o.playing.Store(true)
			o.abort.Store(false)
			if c.start != nil {
				c.start()
			}
			o.write(c)
			o.playing.Store(false)
			if c.done != nil {
				c.done()
			}
		}
	}
}

// write renders one clip through the output stream, opening it lazily on
// first use.
func (o *out) write(c clip) {
	o.mu.Lock()
	if !o.inited {
		if err := portaudio.Initialize(); err != nil {
			o.mu.Unlock()
			return
		}
		o.inited = true
	}
	if o.stream == nil {
		buf := make([]int16, framesPerWrite*o.format.Channels)
		stream, err := portaudio.OpenDefaultStream(
			0, o.format.Channels, float64(o.format.SampleRate), framesPerWrite, buf)
		if err != nil {
			o.mu.Unlock()
			return
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			o.mu.Unlock()
			return
		}
		o.stream = stream
		o.buf = buf
	}
	stream, buf := o.stream, o.buf
	o.mu.Unlock()

	samples := c.samples
	for len(samples) > 0 {
		if o.abort.Load() {
			return
		}
		n := copy(buf, samples)
		samples = samples[n:]
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			if err == portaudio.OutputUnderflowed {
				continue
			}
			return
		}
	}
}

func (o *out) stop() {
	o.abort.Store(true)
	// Drain anything queued behind the aborted clip.
	for {
		select {
		case c := <-o.jobs:
			if c.done != nil {
				c.done()
			}
		default:
			return
		}
	}
}

func (o *out) close() error {
	o.closeOnce.Do(func() {
		o.abort.Store(true)
		close(o.done)
		o.wg.Wait()

		o.mu.Lock()
		defer o.mu.Unlock()
		if o.stream != nil {
			o.stream.Stop()
			o.closeErr = o.stream.Close()
			o.stream = nil
		}
		if o.inited {
			portaudio.Terminate()
			o.inited = false
		}
	})
	return o.closeErr
}

// ── Player ────────────────────────────────────────────────────────────────────

// Option configures a [Player].
type Option func(*Player)

// WithStatusFunc registers a callback invoked with true when a clip starts
// rendering and false when it finishes or is dropped. Rendering callbacks run
// on the render goroutine; drops during Stop or Close report false from the
// calling goroutine. Must not block.
func WithStatusFunc(fn func(playing bool)) Option {
	return func(p *Player) { p.status = fn }
}

// Player is the whole-clip playback variant.
type Player struct {
	out    *out
	status func(bool)
}

// New creates a PortAudio whole-clip player for the given session format.
func New(format audio.Format, opts ...Option) *Player {
	p := &Player{out: newOut(format)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play implements [playback.Player]. Containers are decoded through the WAV
// decoder; anything else is treated as raw PCM16 in the session format.
// Either way the payload is one independent playback unit.
func (p *Player) Play(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	var samples []int16
	format := p.out.format
	if audio.IsContainer(payload) {
		decoded, f, err := audio.DecodeWAV(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", playback.ErrDecode, err)
		}
		// The output stream is opened once at the session format; a clip at
		// any other rate would render at the wrong pitch.
		if f.SampleRate != p.out.format.SampleRate || f.Channels != p.out.format.Channels {
			return fmt.Errorf("%w: clip format %dHz/%dch, session %dHz/%dch",
				playback.ErrDecode, f.SampleRate, f.Channels,
				p.out.format.SampleRate, p.out.format.Channels)
		}
		samples, format = decoded, f
	} else {
		samples = audio.BytesToInt16(payload)
	}

	return p.out.enqueue(clip{
		samples: samples,
		format:  format,
		start: func() {
			if p.status != nil {
				p.status(true)
			}
		},
		done: func() {
			if p.status != nil {
				p.status(false)
			}
		},
	})
}

// IsPlaying implements [playback.Player].
func (p *Player) IsPlaying() bool {
	return p.out.playing.Load() || len(p.out.jobs) > 0
}

// Close implements [playback.Player].
func (p *Player) Close() error {
	p.out.stop()
	return p.out.close()
}

// ── Device ────────────────────────────────────────────────────────────────────

// Device adapts PortAudio output to the [graph.Device] contract so the
// gapless chunk scheduler can render natively.
type Device struct {
	out *out
}

// NewDevice creates a PortAudio output device for the given session format.
func NewDevice(format audio.Format) *Device {
	return &Device{out: newOut(format)}
}

// Play implements [graph.Device].
func (d *Device) Play(chunk []float32, format audio.Format, done func()) error {
	return d.out.enqueue(clip{
		samples: audio.Float32ToInt16(chunk),
		format:  format,
		done:    done,
	})
}

// Stop implements [graph.Device].
func (d *Device) Stop() {
	d.out.stop()
}

// Close implements [graph.Device].
func (d *Device) Close() error {
	return d.out.close()
}
