// Package capture defines the microphone capture abstraction for the Sous
// voice pipeline.
//
// A [Source] produces an infinite sequence of fixed-format PCM16 frames from
// a microphone. Two implementations exist:
//
//   - capture/portaudio — native device capture through PortAudio, tuned for
//     voice input.
//   - capture/graph — an audio-graph pipeline that pulls float32 blocks from
//     a media stream through a fixed-size block processor.
//
// A stopped Source cannot be restarted; create a new one for the next
// recording. The interface is narrow on purpose so the session controller
// stays decoupled from device details.
package capture

import (
	"context"
	"errors"

	"github.com/shgupte/sous/pkg/audio"
)

// ErrUnavailable is returned by [Source.Start] when the microphone cannot be
// acquired — permission denied or the device is busy. The session never
// enters recording in that case; the failure is surfaced to the user.
var ErrUnavailable = errors.New("capture: device unavailable")

// Source produces audio frames from a microphone.
//
// Implementations must be safe for concurrent use of Stop against a running
// capture. Frames arrive on an internal producer goroutine roughly every
// bufferSize/sampleRate seconds; ordering relative to caller commands is not
// guaranteed.
type Source interface {
	// Start acquires the device and begins producing frames in the given
	// format. It returns an error wrapping [ErrUnavailable] if the device
	// cannot be acquired. Start may be called at most once per Source.
	Start(ctx context.Context, format audio.Format) error

	// Frames returns the channel on which captured frames arrive. The
	// channel is closed when the source stops.
	Frames() <-chan audio.Frame

	// Stop releases the device and closes the frame channel. It is
	// idempotent and safe to call on a source that was never started.
	// Stop blocks until device teardown completes.
	Stop()
}
