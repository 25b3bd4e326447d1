package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/capture"
	"github.com/shgupte/sous/pkg/audio/playback"
)

// stopControl is the text frame that ends a recording turn.
type stopControl struct {
	Event string `json:"event"`
}

// Dialer opens a transport session to endpoint. The default dials a real
// WebSocket via [Dial]; tests substitute fakes.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// SourceFactory creates a fresh capture source. Sources are not restartable,
// so the controller creates one per recording and discards it on stop.
type SourceFactory func() capture.Source

// Option configures a [Controller].
type Option func(*Controller)

// WithDialer overrides the transport dialer. Primarily used in tests.
func WithDialer(d Dialer) Option {
	return func(c *Controller) { c.dial = d }
}

// WithFormat overrides the session audio format. Default 16 kHz mono PCM16.
func WithFormat(f audio.Format) Option {
	return func(c *Controller) { c.format = f }
}

// Controller is the top-level voice session state machine. It owns the
// transport socket, the capture device, and the playback device for exactly
// one session at a time; a new session first tears down the old one.
//
// All methods are safe for concurrent use. Side effects are observable
// through the event log ([Controller.Events]), which is append-only from the
// controller's perspective and may be cleared by the caller at any time
// without affecting the state machine.
type Controller struct {
	dial      Dialer
	newSource SourceFactory
	player    playback.Player
	format    audio.Format

	mu     sync.Mutex
	state  State
	conn   Conn
	source capture.Source
	events []Event

	sendWG sync.WaitGroup // send pump of the active recording
	recvWG sync.WaitGroup // receive pump of the active connection
}

// NewController creates a Controller. newSource is invoked once per
// recording; player renders all inbound audio for the session's lifetime.
func NewController(newSource SourceFactory, player playback.Player, opts ...Option) *Controller {
	c := &Controller{
		dial: func(ctx context.Context, endpoint string) (Conn, error) {
			return Dial(ctx, endpoint)
		},
		newSource: newSource,
		player:    player,
		format:    audio.DefaultFormat(),
		state:     StateDisconnected,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns a snapshot of the event log.
func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ClearEvents empties the event log. The state machine is unaffected.
func (c *Controller) ClearEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// Connect opens a transport session to endpoint and moves the state machine
// Disconnected → Connecting → Connected. If a previous session is still
// live, it is torn down first. A dial failure returns the session to
// Disconnected and surfaces a wrapped [ErrTransport].
func (c *Controller) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		c.Disconnect()
		c.mu.Lock()
	}
	c.state = StateConnecting
	c.logLocked(EventStatus, "connecting to "+endpoint)
	c.mu.Unlock()

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.logLocked(EventError, err.Error())
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.logLocked(EventStatus, "connected")
	c.mu.Unlock()

	c.recvWG.Add(1)
	go c.receive(conn)
	return nil
}

// receive routes inbound frames until the transport ends: binary frames go
// to the playback device, text frames to the event log. A terminal transport
// event forces the session to Disconnected.
func (c *Controller) receive(conn Conn) {
	defer c.recvWG.Done()

	binary, text := conn.Binary(), conn.Text()
	for binary != nil || text != nil {
		select {
		case payload, ok := <-binary:
			if !ok {
				binary = nil
				continue
			}
			if err := c.player.Play(payload); err != nil {
				// Undecodable payloads are dropped; the session lives on.
				c.log(EventError, err.Error())
			}
		case msg, ok := <-text:
			if !ok {
				text = nil
				continue
			}
			c.log(EventMessage, msg)
		}
	}

	c.transportDown(conn)
}

// transportDown handles socket error/close: recording stops as a side
// effect, and the state machine lands on Disconnected.
func (c *Controller) transportDown(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// An explicit Disconnect already tore this session down.
		c.mu.Unlock()
		return
	}
	source := c.source
	c.source = nil
	c.conn = nil
	wasRecording := c.state == StateRecording
	c.state = StateDisconnected
	if err := conn.Err(); err != nil {
		c.logLocked(EventError, err.Error())
	} else {
		c.logLocked(EventStatus, "disconnected")
	}
	c.mu.Unlock()

	if wasRecording && source != nil {
		source.Stop()
		c.sendWG.Wait()
	}
	conn.Close()
}

// StartRecording acquires the microphone and begins streaming: first the
// 44-byte stream header, then capture frames in capture order. It returns a
// wrapped [ErrPrecondition] when the session is not Connected and a wrapped
// [capture.ErrUnavailable] when the device cannot be acquired; neither
// changes the session state.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		err := fmt.Errorf("%w: cannot record while %s", ErrPrecondition, c.state)
		c.logLocked(EventError, err.Error())
		c.mu.Unlock()
		return err
	}
	conn := c.conn
	c.mu.Unlock()

	source := c.newSource()
	if err := source.Start(ctx, c.format); err != nil {
		c.log(EventError, err.Error())
		return err
	}

	if err := conn.SendHeader(audio.EncodeStreamHeader(c.format)); err != nil {
		source.Stop()
		c.log(EventError, err.Error())
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected || c.conn != conn {
		// The transport died between the precondition check and now.
		c.mu.Unlock()
		source.Stop()
		return fmt.Errorf("%w: session ended", ErrTransport)
	}
	c.source = source
	c.state = StateRecording
	c.logLocked(EventStatus, "recording started")
	c.mu.Unlock()

	c.sendWG.Add(1)
	go c.send(conn, source)
	return nil
}

// send streams capture frames until the source stops or the transport dies.
// Frames are fire-and-forget; nothing is sent after a terminal transport
// event is observed.
func (c *Controller) send(conn Conn, source capture.Source) {
	defer c.sendWG.Done()

	for {
		select {
		case <-conn.Done():
			return
		case frame, ok := <-source.Frames():
			if !ok {
				return
			}
			select {
			case <-conn.Done():
				return
			default:
			}
			if err := conn.SendFrame(frame.Data); err != nil {
				slog.Debug("voice: dropped frame", "err", err)
			}
		}
	}
}

// StopRecording ends the recording turn: the capture device is released,
// then the {"event":"stop"} control frame is sent after the last audio
// frame. Calling StopRecording when not recording is a no-op — no state
// change, no stop message.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	source := c.source
	conn := c.conn
	c.source = nil
	c.mu.Unlock()

	// Local teardown only: there is no network acknowledgement to wait for.
	source.Stop()
	c.sendWG.Wait()

	err := conn.SendControl(stopControl{Event: "stop"})

	c.mu.Lock()
	if c.state == StateRecording {
		c.state = StateConnected
	}
	c.logLocked(EventStatus, "recording stopped")
	c.mu.Unlock()
	return err
}

// Disconnect tears the session down from any state: capture stops first (so
// nothing is sent on a closing socket), then the transport closes. The state
// machine lands on Disconnected. Idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected && c.conn == nil {
		c.mu.Unlock()
		return
	}
	source := c.source
	conn := c.conn
	c.source = nil
	c.conn = nil
	c.state = StateDisconnecting
	c.mu.Unlock()

	if source != nil {
		source.Stop()
		c.sendWG.Wait()
	}
	if conn != nil {
		conn.Close()
		c.recvWG.Wait()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.logLocked(EventStatus, "disconnected")
	c.mu.Unlock()
}

// Close tears down the session and releases the playback device. Call once
// when the surrounding application discards the controller.
func (c *Controller) Close() error {
	c.Disconnect()
	var errs []error
	if err := c.player.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Controller) log(kind EventKind, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logLocked(kind, msg)
}

// logLocked appends to the event log. Caller holds c.mu.
func (c *Controller) logLocked(kind EventKind, msg string) {
	c.events = append(c.events, Event{Time: time.Now(), Kind: kind, Message: msg})
}
