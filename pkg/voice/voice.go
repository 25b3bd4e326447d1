// Package voice implements the client side of the Sous voice protocol: a
// [Transport] that owns one duplex WebSocket per session, and a [Controller]
// state machine coordinating microphone capture, frame transport, and
// response playback.
//
// Wire protocol, client → service, over one socket per session:
//
//  1. One binary frame: the 44-byte streaming WAV header.
//  2. Zero or more binary frames: raw little-endian PCM16, mono.
//  3. One text frame ending the recording turn: {"event":"stop"}.
//
// Service → client: binary frames are audio responses (WAV container or raw
// PCM16 at 16 kHz); text frames are JSON or plain status text and surface in
// the controller's event log without further interpretation. There is no
// acknowledgement or flow control in either direction.
package voice

import "errors"

// ErrPrecondition is returned when an operation is requested in a state that
// does not allow it (e.g. recording while not connected). The request is
// rejected synchronously with no state change.
var ErrPrecondition = errors.New("voice: operation not allowed in current state")

// ErrTransport wraps socket-level failures: connect errors and mid-stream
// socket errors. A transport error is terminal for the session — the state
// machine returns to Disconnected and any in-progress recording stops.
var ErrTransport = errors.New("voice: transport error")
