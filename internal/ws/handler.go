package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fluentvoice/lesson-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GatewayFactory builds one session gateway per connection, wired to the
// given client surface.
type GatewayFactory func(client session.Client) *session.Gateway

// HandlerConfig holds the shared backends for all lesson connections.
type HandlerConfig struct {
	Gateways      GatewayFactory
	MaxConcurrent int
}

// Handler manages lesson WebSocket connections with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// connectParams is the first text frame sent by the client. Either
// student_id (new session) or session_id with resume=true is required.
type connectParams struct {
	StudentID    string `json:"student_id"`
	SessionID    string `json:"session_id"`
	Resume       bool   `json:"resume"`
	LanguageMode string `json:"language_mode"`
}

// controlFrame is an in-lesson text frame from the client.
type controlFrame struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// ServeHTTP upgrades the connection and runs the lesson session.
// Returns 503 at max concurrent capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params, err := readConnectParams(conn)
	if err != nil {
		slog.Error("read connect params", "error", err)
		return
	}

	client := newClientSender(conn)
	gw := h.cfg.Gateways(client)

	start := session.StartParams{
		StudentID:    params.StudentID,
		LanguageMode: params.LanguageMode,
	}
	if params.Resume {
		start.ResumeSessionID = params.SessionID
	}

	if err = gw.Start(ctx, start); err != nil {
		slog.Error("session start failed", "student_id", params.StudentID, "error", err)
		client.sendError(err.Error())
		return
	}

	lessonNumber, isFirst := gw.LessonInfo()
	client.send(map[string]any{
		"type":            "lesson_info",
		"session_id":      gw.SessionID(),
		"lesson_number":   lessonNumber,
		"is_first_lesson": isFirst,
		"mode":            gw.Mode(),
	})

	h.readFrames(ctx, conn, gw)

	// A read-loop exit while still active means the client went away.
	switch gw.State() {
	case session.StateActive:
		if err = gw.Pause(ctx, session.PauseDisconnect); err != nil {
			slog.Error("pause on disconnect", "session_id", gw.SessionID(), "error", err)
		}
	case session.StateEnded, session.StatePaused:
	default:
		_ = gw.End(ctx)
	}
}

// readFrames consumes client frames until the connection drops or the
// session ends: binary frames are microphone audio, text frames are control
// messages.
func (h *Handler) readFrames(ctx context.Context, conn *websocket.Conn, gw *session.Gateway) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "session_id", gw.SessionID(), "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err = gw.HandleAudio(ctx, data); err != nil {
				slog.Debug("audio rejected", "session_id", gw.SessionID(), "error", err)
			}
		case websocket.TextMessage:
			var ctrl controlFrame
			if err = json.Unmarshal(data, &ctrl); err != nil || ctrl.Type != "control" {
				slog.Warn("unexpected text frame", "session_id", gw.SessionID())
				continue
			}
			switch ctrl.Op {
			case "pause":
				if err = gw.Pause(ctx, session.PauseRequested); err != nil {
					slog.Error("pause", "session_id", gw.SessionID(), "error", err)
				}
				return
			case "end":
				if err = gw.End(ctx); err != nil {
					slog.Error("end", "session_id", gw.SessionID(), "error", err)
				}
				return
			default:
				slog.Warn("unknown control op", "op", ctrl.Op)
			}
		}
	}
}

// clientSender serializes all writes to one connection and implements the
// gateway's client surface.
type clientSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newClientSender(conn *websocket.Conn) *clientSender {
	return &clientSender{conn: conn}
}

func (c *clientSender) SendAudio(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *clientSender) SendTranscript(role, text string, final bool) error {
	return c.send(map[string]any{
		"type":  "transcript",
		"role":  role,
		"text":  text,
		"final": final,
	})
}

func (c *clientSender) SendSystemEvent(event, reason string) error {
	msg := map[string]any{
		"type":  "system_event",
		"event": event,
	}
	if reason != "" {
		msg["reason"] = reason
	}
	return c.send(msg)
}

func (c *clientSender) SendNotice(level, text string) error {
	return c.send(map[string]any{
		"type":  "notice",
		"level": level,
		"text":  text,
	})
}

func (c *clientSender) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *clientSender) sendError(text string) {
	if err := c.send(map[string]any{"type": "notice", "level": "error", "text": text}); err != nil {
		slog.Error("write error notice", "error", err)
	}
}

func readConnectParams(conn *websocket.Conn) (*connectParams, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var params connectParams
	if err = json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
