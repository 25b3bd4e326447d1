package voice_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/capture"
	"github.com/shgupte/sous/pkg/voice"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

type sentMessage struct {
	kind string // "binary" or "text"
	data []byte
}

// fakeConn implements voice.Conn and records every outbound message in order.
type fakeConn struct {
	mu   sync.Mutex
	sent []sentMessage

	binary chan []byte
	text   chan string
	done   chan struct{}
	err    error

	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		binary: make(chan []byte, 16),
		text:   make(chan string, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeConn) record(kind string, data []byte) error {
	select {
	case <-f.done:
		return fmt.Errorf("conn closed")
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{kind: kind, data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SendHeader(h []byte) error  { return f.record("binary", h) }
func (f *fakeConn) SendFrame(d []byte) error   { return f.record("binary", d) }
func (f *fakeConn) SendControl(v any) error {
	return f.record("text", []byte(fmt.Sprintf("%v", v)))
}
func (f *fakeConn) Binary() <-chan []byte   { return f.binary }
func (f *fakeConn) Text() <-chan string     { return f.text }
func (f *fakeConn) Done() <-chan struct{}   { return f.done }
func (f *fakeConn) Err() error              { return f.err }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		close(f.binary)
		close(f.text)
		close(f.done)
	})
	return nil
}

// fail simulates a terminal socket error.
func (f *fakeConn) fail(err error) {
	f.err = err
	f.Close()
}

func (f *fakeConn) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeSource implements capture.Source with test-controlled frames.
type fakeSource struct {
	frames   chan audio.Frame
	startErr error
	stopOnce sync.Once
	stopped  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan audio.Frame, 16)}
}

func (s *fakeSource) Start(context.Context, audio.Format) error { return s.startErr }
func (s *fakeSource) Frames() <-chan audio.Frame                { return s.frames }
func (s *fakeSource) Stop() {
	s.stopOnce.Do(func() {
		s.stopped = true
		close(s.frames)
	})
}

// emit pushes one PCM frame into the source.
func (s *fakeSource) emit(samples ...int16) {
	s.frames <- audio.Frame{Data: audio.Int16ToBytes(samples), Format: audio.DefaultFormat()}
}

// fakePlayer records payloads handed to playback.
type fakePlayer struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (p *fakePlayer) Play(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}
func (p *fakePlayer) IsPlaying() bool { return false }
func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// newTestController wires a controller to a fresh fakeConn per Connect call.
func newTestController(t *testing.T) (*voice.Controller, *fakeConn, *fakeSource, *fakePlayer) {
	t.Helper()
	conn := newFakeConn()
	source := newFakeSource()
	player := &fakePlayer{}
	c := voice.NewController(
		func() capture.Source { return source },
		player,
		voice.WithDialer(func(context.Context, string) (voice.Conn, error) {
			return conn, nil
		}),
	)
	return c, conn, source, player
}

// waitForState polls until the controller reaches want or the timeout fires.
func waitForState(t *testing.T, c *voice.Controller, want voice.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

// waitFor polls cond until it holds or the timeout fires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestConnect_Transitions(t *testing.T) {
	c, _, _, _ := newTestController(t)
	defer c.Close()

	if got := c.State(); got != voice.StateDisconnected {
		t.Fatalf("initial state = %s, want DISCONNECTED", got)
	}
	if err := c.Connect(context.Background(), "ws://example/listen/u/r"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != voice.StateConnected {
		t.Fatalf("state after connect = %s, want CONNECTED", got)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	c := voice.NewController(
		func() capture.Source { return newFakeSource() },
		&fakePlayer{},
		voice.WithDialer(func(context.Context, string) (voice.Conn, error) {
			return nil, fmt.Errorf("%w: connection refused", voice.ErrTransport)
		}),
	)
	defer c.Close()

	err := c.Connect(context.Background(), "ws://nowhere")
	if !errors.Is(err, voice.ErrTransport) {
		t.Fatalf("Connect error = %v, want wrapped ErrTransport", err)
	}
	if got := c.State(); got != voice.StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}

	var sawError bool
	for _, e := range c.Events() {
		if e.Kind == voice.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("dial failure not surfaced in the event log")
	}
}

func TestStartRecording_RequiresConnected(t *testing.T) {
	c, _, _, _ := newTestController(t)
	defer c.Close()

	err := c.StartRecording(context.Background())
	if !errors.Is(err, voice.ErrPrecondition) {
		t.Fatalf("StartRecording error = %v, want wrapped ErrPrecondition", err)
	}
	if got := c.State(); got != voice.StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED (no state change)", got)
	}
}

func TestStartRecording_CaptureUnavailable(t *testing.T) {
	c, _, source, _ := newTestController(t)
	defer c.Close()
	source.startErr = fmt.Errorf("portaudio capture: %w: busy", capture.ErrUnavailable)

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := c.StartRecording(context.Background())
	if !errors.Is(err, capture.ErrUnavailable) {
		t.Fatalf("StartRecording error = %v, want wrapped capture.ErrUnavailable", err)
	}
	if got := c.State(); got != voice.StateConnected {
		t.Fatalf("state = %s, want CONNECTED (never entered RECORDING)", got)
	}
}

func TestRecordingTurn_HeaderFramesStop(t *testing.T) {
	c, conn, source, _ := newTestController(t)
	defer c.Close()

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if got := c.State(); got != voice.StateRecording {
		t.Fatalf("state = %s, want RECORDING", got)
	}

	source.emit(1, 2, 3)
	source.emit(4, 5, 6)
	waitFor(t, "frames to be sent", func() bool {
		return len(conn.sentMessages()) >= 3 // header + 2 frames
	})

	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := c.State(); got != voice.StateConnected {
		t.Fatalf("state after stop = %s, want CONNECTED", got)
	}
	if !source.stopped {
		t.Error("capture source not released on stop")
	}

	sent := conn.sentMessages()
	if len(sent) != 4 {
		t.Fatalf("sent %d messages, want 4 (header, 2 frames, stop)", len(sent))
	}

	// First message is the 44-byte stream header.
	if sent[0].kind != "binary" || len(sent[0].data) != 44 {
		t.Errorf("first message: kind=%s len=%d, want 44-byte binary header",
			sent[0].kind, len(sent[0].data))
	}
	if !audio.IsContainer(sent[0].data) {
		t.Error("header does not carry RIFF/WAVE magic")
	}

	// Audio frames follow in capture order.
	if got := audio.BytesToInt16(sent[1].data); got[0] != 1 {
		t.Errorf("frame order violated: first frame starts with %d, want 1", got[0])
	}
	if got := audio.BytesToInt16(sent[2].data); got[0] != 4 {
		t.Errorf("frame order violated: second frame starts with %d, want 4", got[0])
	}

	// Exactly one stop control, after the last audio frame.
	if sent[3].kind != "text" {
		t.Errorf("last message kind = %s, want text stop control", sent[3].kind)
	}
	var stops int
	for _, m := range sent {
		if m.kind == "text" {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("sent %d text frames, want exactly 1", stops)
	}
}

func TestStopRecording_NoOpWhenNotRecording(t *testing.T) {
	c, conn, _, _ := newTestController(t)
	defer c.Close()

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := c.State(); got != voice.StateConnected {
		t.Fatalf("state = %s, want CONNECTED (unchanged)", got)
	}
	for _, m := range conn.sentMessages() {
		if m.kind == "text" {
			t.Error("stop control sent by a no-op StopRecording")
		}
	}
}

func TestTransportError_DuringRecording(t *testing.T) {
	c, conn, source, _ := newTestController(t)
	defer c.Close()

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	source.emit(1)
	waitFor(t, "frame to be sent", func() bool {
		return len(conn.sentMessages()) >= 2
	})

	before := len(conn.sentMessages())
	conn.fail(fmt.Errorf("%w: connection reset", voice.ErrTransport))

	waitForState(t, c, voice.StateDisconnected)
	waitFor(t, "source release", func() bool { return source.stopped })

	// Nothing may be transmitted after the error is observed.
	if got := len(conn.sentMessages()); got != before {
		t.Errorf("%d messages sent after transport error", got-before)
	}

	var sawError bool
	for _, e := range c.Events() {
		if e.Kind == voice.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("transport error not surfaced in the event log")
	}
}

func TestInboundRouting(t *testing.T) {
	c, conn, _, player := newTestController(t)
	defer c.Close()

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.binary <- audio.Int16ToBytes([]int16{9, 9})
	conn.text <- `{"type":"ConversationText","content":"Preheat the oven."}`

	waitFor(t, "binary frame to reach playback", func() bool {
		return player.playCount() == 1
	})
	waitFor(t, "text frame to reach the event log", func() bool {
		for _, e := range c.Events() {
			if e.Kind == voice.EventMessage {
				return true
			}
		}
		return false
	})
}

func TestClearEvents_DoesNotAffectState(t *testing.T) {
	c, _, _, _ := newTestController(t)
	defer c.Close()

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(c.Events()) == 0 {
		t.Fatal("expected connect events in the log")
	}
	c.ClearEvents()
	if len(c.Events()) != 0 {
		t.Error("log not cleared")
	}
	if got := c.State(); got != voice.StateConnected {
		t.Errorf("state = %s after ClearEvents, want CONNECTED", got)
	}
}

func TestClose_ReleasesEverything(t *testing.T) {
	c, _, source, player := newTestController(t)

	if err := c.Connect(context.Background(), "ws://x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := c.State(); got != voice.StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
	if !source.stopped {
		t.Error("capture source not released on teardown")
	}
	player.mu.Lock()
	closed := player.closed
	player.mu.Unlock()
	if !closed {
		t.Error("playback device not released on teardown")
	}
}
