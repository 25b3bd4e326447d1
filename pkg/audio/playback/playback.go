// Package playback defines the output side of the Sous voice pipeline: a
// [Player] renders response audio payloads through an output device in strict
// arrival order.
//
// Two implementations exist:
//
//   - playback/graph — fine-grained chunk streaming with gapless queueing:
//     the next chunk starts from inside the previous chunk's completion
//     callback, so no silence is audible between chunks.
//   - playback/portaudio — whole-clip playback: each payload is one
//     independent playback unit.
package playback

import "errors"

// ErrDecode is returned by [Player.Play] when a response payload is malformed
// or unrecognised. The offending payload is dropped; the session continues.
var ErrDecode = errors.New("playback: undecodable payload")

// Player renders response audio payloads. Payloads are either self-contained
// WAV containers or raw little-endian PCM16 at the session rate; the player
// classifies and handles both.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play schedules payload for rendering. It never blocks on audio
	// output. Errors wrapping [ErrDecode] mean the payload was dropped.
	Play(payload []byte) error

	// IsPlaying reports whether audio is currently being rendered.
	IsPlaying() bool

	// Close stops any in-flight audio, drops everything queued, and
	// releases the output device. Idempotent.
	Close() error
}
