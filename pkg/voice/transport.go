package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the transport session contract the [Controller] depends on.
// *Transport is the production implementation; tests substitute fakes.
type Conn interface {
	// SendHeader sends the 44-byte stream header as a binary frame.
	SendHeader(header []byte) error

	// SendFrame sends one raw PCM16 audio frame. Fire and forget: no
	// acknowledgement, no retry, no backpressure toward the capture side.
	SendFrame(data []byte) error

	// SendControl JSON-encodes v and sends it as a text frame.
	SendControl(v any) error

	// Binary delivers inbound binary frames (audio responses). Closed when
	// the session ends.
	Binary() <-chan []byte

	// Text delivers inbound text frames (control/status messages). Closed
	// when the session ends.
	Text() <-chan string

	// Done is closed when the socket errors or closes, for any cause.
	Done() <-chan struct{}

	// Err returns the error that ended the session, or nil after a clean
	// close.
	Err() error

	// Close closes the socket. Idempotent.
	Close() error
}

// Compile-time interface assertion.
var _ Conn = (*Transport)(nil)

// Transport owns exactly one persistent duplex WebSocket for a voice
// session. Inbound messages are demultiplexed by payload kind: binary frames
// feed playback, text frames surface as status.
//
// Socket error and socket close are both terminal; there is no automatic
// reconnect. Create a new Transport for the next session.
type Transport struct {
	conn *websocket.Conn

	binary chan []byte
	text   chan string
	done   chan struct{}

	mu     sync.Mutex
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial opens the socket to endpoint and starts the receive loop. The
// supplied ctx governs the connection attempt only; the session then lives
// until [Transport.Close] or a terminal socket event.
func Dial(ctx context.Context, endpoint string) (*Transport, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, endpoint, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		binary: make(chan []byte, 64),
		text:   make(chan string, 16),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: cancel,
	}
	go t.receiveLoop()
	return t, nil
}

// SendHeader implements [Conn].
func (t *Transport) SendHeader(header []byte) error {
	return t.write(websocket.MessageBinary, header)
}

// SendFrame implements [Conn].
func (t *Transport) SendFrame(data []byte) error {
	return t.write(websocket.MessageBinary, data)
}

// SendControl implements [Conn].
func (t *Transport) SendControl(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("voice: marshal control: %w", err)
	}
	return t.write(websocket.MessageText, data)
}

func (t *Transport) write(kind websocket.MessageType, data []byte) error {
	if err := t.conn.Write(t.ctx, kind, data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

// Binary implements [Conn].
func (t *Transport) Binary() <-chan []byte { return t.binary }

// Text implements [Conn].
func (t *Transport) Text() <-chan string { return t.text }

// Done implements [Conn].
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err implements [Conn].
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errVal
}

// receiveLoop reads messages until the socket ends and routes each by
// payload kind. It owns the inbound channels: both close when it exits.
func (t *Transport) receiveLoop() {
	defer func() {
		close(t.binary)
		close(t.text)
		close(t.done)
	}()

	for {
		kind, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.setErr(fmt.Errorf("%w: %v", ErrTransport, err))
			}
			return
		}

		switch kind {
		case websocket.MessageBinary:
			select {
			case t.binary <- data:
			case <-t.ctx.Done():
				return
			}
		case websocket.MessageText:
			select {
			case t.text <- string(data):
			case <-t.ctx.Done():
				return
			}
		}
	}
}

func (t *Transport) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.errVal == nil {
		t.errVal = err
	}
}

// Close implements [Conn].
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.conn.Close(websocket.StatusNormalClosure, "session closed")
		t.cancel()
	})
	return nil
}
