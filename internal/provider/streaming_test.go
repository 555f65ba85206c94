package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// frameLog records the order of frame types the simulated provider received.
type frameLog struct {
	mu    sync.Mutex
	types []string
}

func (l *frameLog) add(t string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, t)
}

func (l *frameLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.types...)
}

func writeFrame(conn *websocket.Conn, frame streamFrame) {
	payload, _ := json.Marshal(frame)
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

// newSimulator starts a fake streaming provider. The script is invoked for
// every received frame after the default handshake behavior (configure→ready,
// item.create→item.created) has run.
func newSimulator(t *testing.T, script func(conn *websocket.Conn, frame streamFrame)) (string, *frameLog) {
	t.Helper()
	log := &frameLog{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame streamFrame
			if json.Unmarshal(data, &frame) != nil {
				continue
			}
			log.add(frame.Type)
			switch frame.Type {
			case "session.configure":
				writeFrame(conn, streamFrame{Type: "session.ready"})
			case "item.create":
				writeFrame(conn, streamFrame{Type: "item.created", ItemID: frame.Item.ID})
			}
			if script != nil {
				script(conn, frame)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), log
}

func newTestBridge(t *testing.T, url string, events chan Event) *StreamingBridge {
	t.Helper()
	b := NewStreamingBridge(StreamingConfig{
		URL:        url,
		APIKey:     "sk-test",
		AckTimeout: 2 * time.Second,
		OnEvent:    func(ev Event) { events <- ev },
	})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitEvent(t *testing.T, events chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", want)
		}
	}
}

func TestConfigureHandshake(t *testing.T) {
	url, log := newSimulator(t, nil)
	b := newTestBridge(t, url, make(chan Event, 64))

	err := b.Configure(context.Background(), SessionConfig{Instructions: "teach", VoiceID: "verse"})
	require.NoError(t, err)

	require.NoError(t, b.Relay(context.Background(), []byte{0, 1, 2, 3}))
	assert.Equal(t, "session.configure", log.snapshot()[0])
}

func TestRelayBeforeConfigureRejected(t *testing.T) {
	b := NewStreamingBridge(StreamingConfig{URL: "ws://unused", APIKey: "sk-test"})
	err := b.Relay(context.Background(), []byte{0, 1})
	require.Error(t, err)
}

func TestConfigureWithoutAPIKeyIsConfigurationError(t *testing.T) {
	b := NewStreamingBridge(StreamingConfig{URL: "ws://unused"})
	err := b.Configure(context.Background(), SessionConfig{})
	require.Error(t, err)
	assert.Equal(t, ClassConfiguration, ClassOf(err))
}

func TestDialRejectedUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewStreamingBridge(StreamingConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey: "sk-wrong",
	})
	err := b.Configure(context.Background(), SessionConfig{})
	require.Error(t, err)
	assert.Equal(t, ClassConfiguration, ClassOf(err))
}

func TestTriggerRegistersItemBeforeRequestingResponse(t *testing.T) {
	url, log := newSimulator(t, nil)
	events := make(chan Event, 64)
	b := newTestBridge(t, url, events)

	require.NoError(t, b.Configure(context.Background(), SessionConfig{}))
	require.NoError(t, b.Trigger(context.Background(), TriggerGreeting))

	// Trigger returns once response.create is written, but the simulator logs
	// it on its own goroutine; wait for delivery before inspecting the order.
	deadline := time.Now().Add(2 * time.Second)
	types := log.snapshot()
	for !slices.Contains(types, "response.create") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		types = log.snapshot()
	}
	itemIdx, respIdx := -1, -1
	for i, typ := range types {
		switch typ {
		case "item.create":
			itemIdx = i
		case "response.create":
			respIdx = i
		}
	}
	require.GreaterOrEqual(t, itemIdx, 0)
	require.GreaterOrEqual(t, respIdx, 0)
	assert.Less(t, itemIdx, respIdx, "response requested before item registered")
}

func TestAssistantTurnAssembly(t *testing.T) {
	audioChunk := base64.StdEncoding.EncodeToString([]byte("pcm"))
	url, log := newSimulator(t, func(conn *websocket.Conn, frame streamFrame) {
		if frame.Type != "response.create" {
			return
		}
		writeFrame(conn, streamFrame{Type: "response.text.delta", Text: "Hello "})
		writeFrame(conn, streamFrame{Type: "response.text.delta", Text: "there!"})
		writeFrame(conn, streamFrame{Type: "response.audio.delta", Audio: audioChunk})
		writeFrame(conn, streamFrame{Type: "response.done"})
	})
	events := make(chan Event, 64)
	b := newTestBridge(t, url, events)

	require.NoError(t, b.Configure(context.Background(), SessionConfig{}))
	require.NoError(t, b.Trigger(context.Background(), TriggerGreeting))

	audio := waitEvent(t, events, EventAudio)
	assert.Equal(t, []byte("pcm"), audio.Audio)

	turn := waitEvent(t, events, EventTurnComplete)
	assert.Equal(t, RoleAssistant, turn.Speaker)
	assert.Equal(t, "Hello there!", turn.Text)

	// the input buffer is cleared once the turn lands
	require.Eventually(t, func() bool {
		for _, typ := range log.snapshot() {
			if typ == "input_audio.clear" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUserTranscriptForwarded(t *testing.T) {
	url, _ := newSimulator(t, func(conn *websocket.Conn, frame streamFrame) {
		if frame.Type != "input_audio.append" {
			return
		}
		writeFrame(conn, streamFrame{Type: "input.transcript.delta", Text: "I went"})
		writeFrame(conn, streamFrame{Type: "input.transcript.done", Text: "I went hiking"})
	})
	events := make(chan Event, 64)
	b := newTestBridge(t, url, events)

	require.NoError(t, b.Configure(context.Background(), SessionConfig{}))
	require.NoError(t, b.Relay(context.Background(), []byte{1, 2, 3}))

	turn := waitEvent(t, events, EventTurnComplete)
	assert.Equal(t, RoleUser, turn.Speaker)
	assert.Equal(t, "I went hiking", turn.Text)
}

func TestEmptyResponseAnomaly(t *testing.T) {
	url, log := newSimulator(t, func(conn *websocket.Conn, frame streamFrame) {
		if frame.Type == "response.create" {
			writeFrame(conn, streamFrame{Type: "response.done"})
		}
	})
	events := make(chan Event, 64)
	b := newTestBridge(t, url, events)

	require.NoError(t, b.Configure(context.Background(), SessionConfig{}))
	require.NoError(t, b.Trigger(context.Background(), TriggerGreeting))

	ev := waitEvent(t, events, EventError)
	assert.Equal(t, ClassEmptyResponse, ClassOf(ev.Err))

	// even an empty turn clears the input buffer
	require.Eventually(t, func() bool {
		for _, typ := range log.snapshot() {
			if typ == "input_audio.clear" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProviderErrorFrameClassification(t *testing.T) {
	url, _ := newSimulator(t, func(conn *websocket.Conn, frame streamFrame) {
		if frame.Type == "input_audio.append" {
			writeFrame(conn, streamFrame{Type: "error", Code: "quota_exceeded", Message: "hard limit"})
		}
	})
	events := make(chan Event, 64)
	b := newTestBridge(t, url, events)

	require.NoError(t, b.Configure(context.Background(), SessionConfig{}))
	require.NoError(t, b.Relay(context.Background(), []byte{1}))

	ev := waitEvent(t, events, EventError)
	assert.Equal(t, ClassCritical, ClassOf(ev.Err))
}

func TestToolCallForwarded(t *testing.T) {
	args := json.RawMessage(`{"name":"Anna"}`)
	url, _ := newSimulator(t, func(conn *websocket.Conn, frame streamFrame) {
		if frame.Type == "input_audio.append" {
			writeFrame(conn, streamFrame{Type: "tool.call", Name: "save_student_profile", Arguments: args})
		}
	})
	events := make(chan Event, 64)
	b := newTestBridge(t, url, events)

	require.NoError(t, b.Configure(context.Background(), SessionConfig{}))
	require.NoError(t, b.Relay(context.Background(), []byte{1}))

	ev := waitEvent(t, events, EventToolCall)
	assert.Equal(t, "save_student_profile", ev.Text)
	assert.JSONEq(t, `{"name":"Anna"}`, string(ev.Raw))
}
