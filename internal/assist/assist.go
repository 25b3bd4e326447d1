// Package assist implements the client for the upstream voice agent service.
//
// It establishes a bidirectional WebSocket connection to the agent endpoint,
// sends a Settings message describing audio formats and model choices, and then
// relays raw PCM16 audio upstream. Synthesised audio arrives as binary frames;
// conversation text and control events arrive as JSON text messages. Function
// call requests from the agent are surfaced via the FunctionHandler callback
// and answered with a FunctionResponse message.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultBaseURL           = "wss://agent.deepgram.com/v1/agent/converse"
	defaultListenModel       = "nova-3"
	defaultThinkModel        = "gpt-4o-mini"
	defaultSpeakModel        = "aura-2-thalia-en"
	defaultPrompt            = "You are an expert cooking assistant who is concise and practical."
	defaultGreeting          = "Ask me anything about your recipe."
	defaultKeepAliveInterval = 5 * time.Second

	// RAGFunctionName is the name of the retrieval function exposed to the
	// agent. When the agent needs recipe details it issues a
	// FunctionCallRequest for this function with a "question" argument.
	RAGFunctionName = "get_rag_context"
)

// audio stream parameters shared with the client-facing side of the relay.
const (
	sampleRate = 16000
	encoding   = "linear16"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the agent WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithListenModel sets the speech-to-text model.
func WithListenModel(model string) Option {
	return func(p *Provider) { p.listenModel = model }
}

// WithThinkModel sets the reasoning model.
func WithThinkModel(model string) Option {
	return func(p *Provider) { p.thinkModel = model }
}

// WithSpeakModel sets the text-to-speech voice model.
func WithSpeakModel(model string) Option {
	return func(p *Provider) { p.speakModel = model }
}

// WithPrompt replaces the default system prompt for the reasoning model.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithGreeting replaces the greeting spoken when a session starts.
func WithGreeting(greeting string) Option {
	return func(p *Provider) { p.greeting = greeting }
}

// WithKeepAliveInterval sets how often KeepAlive messages are sent. The agent
// service drops idle connections, so the interval should stay well under its
// idle timeout.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.keepAlive = d
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider opens agent sessions. A single Provider is safe for concurrent use;
// each Connect call yields an independent Session.
type Provider struct {
	apiKey      string
	baseURL     string
	listenModel string
	thinkModel  string
	speakModel  string
	prompt      string
	greeting    string
	keepAlive   time.Duration
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		listenModel: defaultListenModel,
		thinkModel:  defaultThinkModel,
		speakModel:  defaultSpeakModel,
		prompt:      defaultPrompt,
		greeting:    defaultGreeting,
		keepAlive:   defaultKeepAliveInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new agent session. The Settings message is sent before
// Connect returns, so the session is ready to accept audio immediately.
func (p *Provider) Connect(ctx context.Context) (*Session, error) {
	hdr := http.Header{}
	if p.apiKey != "" {
		hdr.Set("Authorization", "Token "+p.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, p.baseURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("assist: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:    conn,
		audioCh: make(chan []byte, 64),
		textCh:  make(chan string, 16),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.writeJSON(p.settings()); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "settings failed")
		return nil, fmt.Errorf("assist: send settings: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepAliveLoop(p.keepAlive)

	return sess, nil
}

func (p *Provider) settings() settingsMessage {
	return settingsMessage{
		Type: "Settings",
		Audio: audioSettings{
			Input: audioFormat{
				Encoding:   encoding,
				SampleRate: sampleRate,
			},
			Output: audioFormat{
				Encoding:   encoding,
				SampleRate: sampleRate,
				Container:  "wav",
			},
		},
		Agent: agentSettings{
			Language: "en",
			Listen: listenSettings{
				Provider: providerRef{Type: "deepgram", Model: p.listenModel},
			},
			Think: thinkSettings{
				Provider: providerRef{Type: "open_ai", Model: p.thinkModel},
				Prompt:   p.prompt,
				Functions: []functionDef{
					{
						Name:        RAGFunctionName,
						Description: "Retrieves specific information about the recipe the user is currently working on to answer their questions.",
						Parameters: map[string]any{
							"type": "object",
							"properties": map[string]any{
								"question": map[string]any{
									"type":        "string",
									"description": "The user's specific question about the recipe.",
								},
							},
							"required": []string{"question"},
						},
					},
				},
			},
			Speak: speakSettings{
				Provider: providerRef{Type: "deepgram", Model: p.speakModel},
			},
			Greeting: p.greeting,
		},
	}
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type settingsMessage struct {
	Type  string        `json:"type"`
	Audio audioSettings `json:"audio"`
	Agent agentSettings `json:"agent"`
}

type audioSettings struct {
	Input  audioFormat `json:"input"`
	Output audioFormat `json:"output"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type agentSettings struct {
	Language string         `json:"language"`
	Listen   listenSettings `json:"listen"`
	Think    thinkSettings  `json:"think"`
	Speak    speakSettings  `json:"speak"`
	Greeting string         `json:"greeting,omitempty"`
}

type listenSettings struct {
	Provider providerRef `json:"provider"`
}

type thinkSettings struct {
	Provider  providerRef   `json:"provider"`
	Prompt    string        `json:"prompt,omitempty"`
	Functions []functionDef `json:"functions,omitempty"`
}

type speakSettings struct {
	Provider providerRef `json:"provider"`
}

type providerRef struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type functionResponseMessage struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type keepAliveMessage struct {
	Type string `json:"type"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type agentEvent struct {
	Type string `json:"type"`

	// FunctionCallRequest
	RequestID string         `json:"request_id,omitempty"`
	Functions []functionCall `json:"functions,omitempty"`

	// Error event
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
}

type functionCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// FunctionHandler answers a function call from the agent. It receives the
// function name and the raw JSON arguments string and returns the output that
// is sent back in the FunctionResponse.
type FunctionHandler func(name, arguments string) (string, error)

// Session is a live connection to the agent service.
type Session struct {
	conn    *websocket.Conn
	audioCh chan []byte
	textCh  chan string

	mu           sync.Mutex
	fnHandler    FunctionHandler
	errorHandler func(error)
	errVal       error
	closed       bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// SendAudio forwards a raw PCM16 chunk to the agent.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("assist: session closed")
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageBinary, chunk)
}

// Audio returns the channel on which the agent's synthesised audio arrives.
// It is closed when the session ends.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Text returns the channel on which conversation text events arrive as raw
// JSON. It is closed when the session ends.
func (s *Session) Text() <-chan string { return s.textCh }

// Err returns the first non-nil error that caused the session to terminate.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// OnFunctionCall registers the callback invoked when the agent requests a
// function call. Without a handler, requests are answered with an error output
// so the agent is not left waiting.
func (s *Session) OnFunctionCall(handler FunctionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fnHandler = handler
}

// OnError registers a callback for non-fatal Error events from the agent.
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("assist: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them. It owns
// audioCh and textCh: it closes both when it exits.
func (s *Session) receiveLoop() {
	defer s.closeChannels()

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(fmt.Errorf("assist: receive: %w", err))
			}
			return
		}

		if typ == websocket.MessageBinary {
			select {
			case s.audioCh <- data:
			case <-s.ctx.Done():
				return
			}
			continue
		}

		var evt agentEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleEvent(&evt, string(data))
	}
}

func (s *Session) handleEvent(evt *agentEvent, raw string) {
	switch evt.Type {
	case "Welcome":
		// Connection acknowledged, nothing to forward.

	case "FunctionCallRequest":
		s.handleFunctionCall(evt)

	case "Error":
		s.handleErrorEvent(evt)

	default:
		// ConversationText, History, AgentAudioDone and the rest are
		// forwarded verbatim for the client to interpret.
		select {
		case s.textCh <- raw:
		case <-s.ctx.Done():
		}
	}
}

func (s *Session) handleFunctionCall(evt *agentEvent) {
	s.mu.Lock()
	handler := s.fnHandler
	s.mu.Unlock()

	for _, fn := range evt.Functions {
		var output string
		if handler == nil {
			output = fmt.Sprintf(`{"error": "no handler for function %q"}`, fn.Name)
		} else {
			result, err := handler(fn.Name, fn.Arguments)
			if err != nil {
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
			}
			output = result
		}

		_ = s.writeJSON(functionResponseMessage{
			Type:       "FunctionResponse",
			RequestID:  evt.RequestID,
			ToolCallID: fn.ID,
			Output:     output,
		})
	}
}

func (s *Session) handleErrorEvent(evt *agentEvent) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()

	if handler == nil {
		return
	}

	msg := evt.Description
	if msg == "" {
		msg = "unknown error"
	}
	if evt.Code != "" {
		handler(fmt.Errorf("assist: %s: %s", evt.Code, msg))
		return
	}
	handler(fmt.Errorf("assist: %s", msg))
}

// keepAliveLoop sends KeepAlive messages on a fixed interval so the agent
// service does not drop the connection during silence.
func (s *Session) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(keepAliveMessage{Type: "KeepAlive"}); err != nil {
				return
			}
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.textCh)
	})
}
