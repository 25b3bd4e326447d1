package voice_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/voice"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startVoiceServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startVoiceServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readMessage reads one WebSocket frame with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	kind, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	return kind, data
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_Failure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := voice.Dial(ctx, "ws://127.0.0.1:1/listen/u/r")
	if !errors.Is(err, voice.ErrTransport) {
		t.Fatalf("Dial error = %v, want wrapped ErrTransport", err)
	}
}

func TestTransport_OutboundFrames(t *testing.T) {
	t.Parallel()

	type received struct {
		kind websocket.MessageType
		data []byte
	}
	got := make(chan received, 3)

	srv := startVoiceServer(t, func(conn *websocket.Conn) {
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for range 3 {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			kind, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			got <- received{kind: kind, data: data}
		}
	})

	tr, err := voice.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	header := audio.EncodeStreamHeader(audio.DefaultFormat())
	if err := tr.SendHeader(header); err != nil {
		t.Fatalf("SendHeader: %v", err)
	}
	if err := tr.SendFrame(audio.Int16ToBytes([]int16{1, -1, 0})); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if err := tr.SendControl(map[string]string{"event": "stop"}); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	want := []struct {
		kind websocket.MessageType
		size int
	}{
		{websocket.MessageBinary, audio.StreamHeaderSize},
		{websocket.MessageBinary, 6},
		{websocket.MessageText, 0},
	}
	for i, w := range want {
		select {
		case r := <-got:
			if r.kind != w.kind {
				t.Errorf("message %d: kind = %v, want %v", i, r.kind, w.kind)
			}
			if w.size > 0 && len(r.data) != w.size {
				t.Errorf("message %d: len = %d, want %d", i, len(r.data), w.size)
			}
			if w.kind == websocket.MessageText {
				var ctl map[string]string
				if err := json.Unmarshal(r.data, &ctl); err != nil {
					t.Fatalf("control frame not JSON: %v", err)
				}
				if ctl["event"] != "stop" {
					t.Errorf("control event = %q, want stop", ctl["event"])
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestTransport_InboundDemux(t *testing.T) {
	t.Parallel()

	srv := startVoiceServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Write(ctx, websocket.MessageBinary, audio.Int16ToBytes([]int16{7, 8}))
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Welcome"}`))
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	tr, err := voice.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	select {
	case data := <-tr.Binary():
		if samples := audio.BytesToInt16(data); len(samples) != 2 || samples[0] != 7 {
			t.Errorf("binary frame = %v, want [7 8]", samples)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for binary frame")
	}

	select {
	case msg := <-tr.Text():
		if !strings.Contains(msg, "Welcome") {
			t.Errorf("text frame = %q, want the server status message", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for text frame")
	}
}

func TestTransport_CleanCloseHasNilErr(t *testing.T) {
	t.Parallel()

	srv := startVoiceServer(t, func(conn *websocket.Conn) {
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	tr, err := voice.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session end")
	}
	if err := tr.Err(); err != nil {
		t.Errorf("Err after clean close = %v, want nil", err)
	}
}

func TestTransport_AbnormalCloseSurfacesError(t *testing.T) {
	t.Parallel()

	srv := startVoiceServer(t, func(conn *websocket.Conn) {
		conn.Close(websocket.StatusInternalError, "agent crashed")
	})

	tr, err := voice.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session end")
	}
	if err := tr.Err(); !errors.Is(err, voice.ErrTransport) {
		t.Errorf("Err after abnormal close = %v, want wrapped ErrTransport", err)
	}
}

func TestTransport_ChannelsCloseOnEnd(t *testing.T) {
	t.Parallel()

	srv := startVoiceServer(t, func(conn *websocket.Conn) {
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	tr, err := voice.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	deadline := time.After(3 * time.Second)
	binary, text := tr.Binary(), tr.Text()
	for binary != nil || text != nil {
		select {
		case _, ok := <-binary:
			if !ok {
				binary = nil
			}
		case _, ok := <-text:
			if !ok {
				text = nil
			}
		case <-deadline:
			t.Fatal("timeout waiting for inbound channels to close")
		}
	}
}

func TestTransport_CloseIdempotent(t *testing.T) {
	t.Parallel()

	srv := startVoiceServer(t, func(conn *websocket.Conn) {
		<-conn.CloseRead(context.Background()).Done()
	})

	tr, err := voice.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
