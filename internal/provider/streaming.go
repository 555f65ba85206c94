package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fluentvoice/lesson-gateway/internal/metrics"
)

const defaultAckTimeout = 10 * time.Second

// StreamingConfig configures a streaming bridge instance.
type StreamingConfig struct {
	URL        string
	APIKey     string
	AckTimeout time.Duration
	OnEvent    EventCallback
	Tap        Tap
	Dialer     *websocket.Dialer
}

// StreamingBridge relays a lesson bidirectionally over one persistent
// websocket to a stateful realtime voice provider. The provider performs
// recognition, reasoning and synthesis server-side; its configuration is
// immutable after first use, so behavioral changes go through Inject.
type StreamingBridge struct {
	cfg  StreamingConfig
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}

	readyCh    chan struct{}
	readyOnce  sync.Once
	configured atomic.Bool

	ackMu    sync.Mutex
	itemAcks map[string]chan struct{}

	// assistant turn assembly; reset at each turn boundary
	turnMu        sync.Mutex
	assistantText strings.Builder
	turnHadAudio  bool
}

// NewStreamingBridge creates an unconnected streaming bridge.
func NewStreamingBridge(cfg StreamingConfig) *StreamingBridge {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	return &StreamingBridge{
		cfg:      cfg,
		done:     make(chan struct{}),
		readyCh:  make(chan struct{}),
		itemAcks: make(map[string]chan struct{}),
	}
}

// Mode reports the bridge kind.
func (b *StreamingBridge) Mode() Mode { return ModeStreaming }

// wire frames

type streamFrame struct {
	Type    string         `json:"type"`
	Session *sessionParams `json:"session,omitempty"`
	Item    *itemParams    `json:"item,omitempty"`
	ItemID  string         `json:"item_id,omitempty"`
	Audio   string         `json:"audio,omitempty"`
	Text    string         `json:"text,omitempty"`
	Status  string         `json:"status,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`

	// tool.call frames
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type sessionParams struct {
	Instructions string            `json:"instructions"`
	Voice        string            `json:"voice"`
	Language     string            `json:"language,omitempty"`
	Tools        []json.RawMessage `json:"tools,omitempty"`
}

type itemParams struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// Configure opens the upstream connection, sends the one-time configuration
// and waits for the explicit session.ready acknowledgment. The bridge accepts
// no audio until that acknowledgment arrives.
func (b *StreamingBridge) Configure(ctx context.Context, cfg SessionConfig) error {
	if b.cfg.APIKey == "" {
		return ConfigError("streaming provider api key missing", nil)
	}
	if b.configured.Load() {
		return fmt.Errorf("streaming bridge already configured")
	}

	dialer := b.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, b.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return ConfigError(fmt.Sprintf("streaming dial rejected (status %d)", resp.StatusCode), err)
		}
		return TransientError("streaming dial", err)
	}
	b.conn = conn

	go b.readLoop()

	var tools []json.RawMessage
	for _, t := range cfg.Tools {
		tools = append(tools, json.RawMessage(t))
	}
	frame := streamFrame{
		Type: "session.configure",
		Session: &sessionParams{
			Instructions: cfg.Instructions,
			Voice:        cfg.VoiceID,
			Language:     cfg.LanguageMode,
			Tools:        tools,
		},
	}
	if err = b.send(frame); err != nil {
		b.Close()
		return TransientError("send session.configure", err)
	}

	// Bounded wait for the configuration acknowledgment. Proceeding without
	// it risks the provider discarding early input, so on timeout we log and
	// continue rather than block the lesson start indefinitely.
	select {
	case <-b.readyCh:
	case <-ctx.Done():
		b.Close()
		return ctx.Err()
	case <-b.done:
		return TransientError("streaming connection closed before session.ready", nil)
	case <-time.After(b.cfg.AckTimeout):
		metrics.AckTimeouts.WithLabelValues("configure").Inc()
		slog.Warn("session.ready not received in time, proceeding", "timeout", b.cfg.AckTimeout)
	}

	b.configured.Store(true)
	return nil
}

// Relay forwards one resampled PCM frame to the provider input buffer.
func (b *StreamingBridge) Relay(ctx context.Context, audioBytes []byte) error {
	if !b.configured.Load() {
		return fmt.Errorf("relay before configure acknowledgment")
	}
	return b.send(streamFrame{
		Type:  "input_audio.append",
		Audio: base64.StdEncoding.EncodeToString(audioBytes),
	})
}

// Inject appends a directive to the conversation as a tagged item and waits
// for the provider to confirm registration. Injection is the only mechanism
// available; the original configuration cannot be replaced.
func (b *StreamingBridge) Inject(ctx context.Context, text string) error {
	if !b.configured.Load() {
		return fmt.Errorf("inject before configure acknowledgment")
	}
	_, err := b.createItem(ctx, "system", text)
	return err
}

// Trigger makes the bridge itself create a conversation item and request a
// generation, used when the student has not yet spoken. The item-registered
// acknowledgment is awaited before the response request: requesting a
// response for an unregistered item is the known cause of turns completing
// with zero content.
func (b *StreamingBridge) Trigger(ctx context.Context, kind TriggerKind) error {
	if !b.configured.Load() {
		return fmt.Errorf("trigger before configure acknowledgment")
	}

	var prompt string
	switch kind {
	case TriggerGreeting:
		prompt = "Greet the student and open the lesson."
	case TriggerResume:
		prompt = "The lesson is resuming after a pause. Welcome the student back and continue where you left off. Do not restart the lesson."
	default:
		return fmt.Errorf("unknown trigger kind %q", kind)
	}

	if _, err := b.createItem(ctx, "system", prompt); err != nil {
		return err
	}
	return b.send(streamFrame{Type: "response.create"})
}

// createItem sends item.create and waits (bounded) for item.created.
func (b *StreamingBridge) createItem(ctx context.Context, role, text string) (string, error) {
	itemID := uuid.NewString()
	ackCh := make(chan struct{})

	b.ackMu.Lock()
	b.itemAcks[itemID] = ackCh
	b.ackMu.Unlock()
	defer func() {
		b.ackMu.Lock()
		delete(b.itemAcks, itemID)
		b.ackMu.Unlock()
	}()

	err := b.send(streamFrame{
		Type: "item.create",
		Item: &itemParams{ID: itemID, Role: role, Text: text},
	})
	if err != nil {
		return "", TransientError("send item.create", err)
	}

	select {
	case <-ackCh:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return "", TransientError("streaming connection closed before item.created", nil)
	case <-time.After(b.cfg.AckTimeout):
		metrics.AckTimeouts.WithLabelValues("item").Inc()
		slog.Warn("item.created not received in time, proceeding", "item_id", itemID, "timeout", b.cfg.AckTimeout)
	}
	return itemID, nil
}

func (b *StreamingBridge) send(frame streamFrame) error {
	if b.closed.Load() {
		return fmt.Errorf("streaming bridge is closed")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", frame.Type, err)
	}
	b.tap(DirOutbound, frame.Type, payload)

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteMessage(websocket.TextMessage, payload)
}

func (b *StreamingBridge) tap(dir Direction, event string, payload []byte) {
	if b.cfg.Tap != nil {
		b.cfg.Tap(dir, event, payload)
	}
}

func (b *StreamingBridge) emit(ev Event) {
	if b.cfg.OnEvent != nil {
		b.cfg.OnEvent(ev)
	}
}

func (b *StreamingBridge) readLoop() {
	defer close(b.done)

	for {
		msgType, data, err := b.conn.ReadMessage()
		if err != nil {
			if b.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			b.emit(Event{Type: EventError, Err: TransientError("streaming read", err)})
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var frame streamFrame
		if err = json.Unmarshal(data, &frame); err != nil {
			slog.Warn("undecodable streaming frame", "error", err)
			continue
		}
		b.tap(DirInbound, frame.Type, data)
		b.handleFrame(frame, data)
	}
}

func (b *StreamingBridge) handleFrame(frame streamFrame, raw []byte) {
	switch frame.Type {
	case "session.ready":
		b.readyOnce.Do(func() { close(b.readyCh) })

	case "item.created":
		b.ackMu.Lock()
		if ch, ok := b.itemAcks[frame.ItemID]; ok {
			close(ch)
			delete(b.itemAcks, frame.ItemID)
		}
		b.ackMu.Unlock()

	case "response.audio.delta":
		audioBytes, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			slog.Warn("undecodable audio delta", "error", err)
			return
		}
		b.turnMu.Lock()
		b.turnHadAudio = true
		b.turnMu.Unlock()
		b.emit(Event{Type: EventAudio, Speaker: RoleAssistant, Audio: audioBytes})

	case "response.text.delta":
		b.turnMu.Lock()
		b.assistantText.WriteString(frame.Text)
		b.turnMu.Unlock()
		b.emit(Event{Type: EventTranscriptDelta, Speaker: RoleAssistant, Text: frame.Text})

	case "input.transcript.delta":
		b.emit(Event{Type: EventTranscriptDelta, Speaker: RoleUser, Text: frame.Text})

	case "input.transcript.done":
		b.emit(Event{Type: EventTurnComplete, Speaker: RoleUser, Text: frame.Text, Raw: raw})

	case "response.done":
		b.finishAssistantTurn(frame, raw)

	case "tool.call":
		b.emit(Event{Type: EventToolCall, Speaker: RoleAssistant, Text: frame.Name, Raw: frame.Arguments})

	case "error":
		b.emit(Event{Type: EventError, Err: classifyStreamError(frame)})
	}
}

// finishAssistantTurn emits the completed turn and clears the provider input
// buffer. Skipping the clear causes unbounded buffer growth upstream that
// surfaces as audio stutter over long sessions.
func (b *StreamingBridge) finishAssistantTurn(frame streamFrame, raw []byte) {
	b.turnMu.Lock()
	text := b.assistantText.String()
	hadAudio := b.turnHadAudio
	b.assistantText.Reset()
	b.turnHadAudio = false
	b.turnMu.Unlock()

	// cleared even for an empty turn, or stale input replays into the
	// next response
	if err := b.send(streamFrame{Type: "input_audio.clear"}); err != nil {
		slog.Warn("input buffer clear failed", "error", err)
	}

	if strings.TrimSpace(text) == "" && !hadAudio {
		metrics.EmptyResponses.Inc()
		b.emit(Event{Type: EventError, Err: EmptyResponseError("streaming response completed with zero content")})
		return
	}

	b.emit(Event{Type: EventTurnComplete, Speaker: RoleAssistant, Text: text, Raw: raw})
}

func classifyStreamError(frame streamFrame) *Error {
	detail := fmt.Sprintf("streaming provider error %s: %s", frame.Code, frame.Message)
	switch frame.Code {
	case "quota_exceeded", "billing_hard_limit", "auth_revoked", "invalid_api_key":
		return CriticalError(detail, nil)
	case "rate_limit", "overloaded", "server_error":
		return TransientError(detail, nil)
	default:
		return TransientError(detail, nil)
	}
}

// Close closes the websocket and waits for the read loop to finish.
func (b *StreamingBridge) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.conn != nil {
			b.writeMu.Lock()
			_ = b.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			b.writeMu.Unlock()
			_ = b.conn.Close()
		}
	})
	if b.conn != nil {
		<-b.done
	}
	return nil
}
