// Package provider contains the two bridge implementations that relay a
// lesson conversation to an upstream voice provider: a persistent streaming
// connection and a discrete STT → completion → TTS fallback pipeline. Both
// satisfy the same Bridge surface so the session gateway is mode-agnostic.
package provider

import "context"

// Mode identifies which bridge implementation is active.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeLegacy    Mode = "legacy"
)

// TriggerKind selects the kind of assistant-initiated generation requested
// before the student has spoken.
type TriggerKind string

const (
	TriggerGreeting TriggerKind = "greeting"
	TriggerResume   TriggerKind = "resume"
)

// Speaker roles used in bridge events.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SessionConfig is the one-time configuration sent on Configure. Tools are
// raw JSON schema declarations for structured calls the assistant may invoke
// silently (for example onboarding profile capture).
type SessionConfig struct {
	Instructions string
	VoiceID      string
	LanguageMode string
	Tools        []string
}

// EventType classifies bridge output events.
type EventType string

const (
	// EventAudio carries an assistant audio fragment, forwarded to the
	// client as it arrives.
	EventAudio EventType = "audio"
	// EventTranscriptDelta carries a partial transcript fragment.
	EventTranscriptDelta EventType = "transcript_delta"
	// EventTurnComplete marks one completed utterance by either speaker.
	EventTurnComplete EventType = "turn_complete"
	// EventToolCall carries a structured call emitted by the assistant,
	// with the tool name in Text and its JSON arguments in Raw.
	EventToolCall EventType = "tool_call"
	// EventError carries a classified provider failure.
	EventError EventType = "error"
)

// Event is one bridge output delivered to the session gateway.
type Event struct {
	Type    EventType
	Speaker string // user or assistant, for transcript and turn events
	Text    string
	Audio   []byte
	Raw     []byte // upstream payload as received, kept for persistence
	Err     error
}

// EventCallback receives bridge events. Implementations must not block.
type EventCallback func(Event)

// Direction tags tap observations as provider-bound or provider-originated.
type Direction string

const (
	DirOutbound Direction = "outbound"
	DirInbound  Direction = "inbound"
)

// Tap observes every event exchanged with the upstream provider, in both
// directions. It exists for operator audit tooling; the orchestrator never
// depends on its behavior. A nil Tap is valid.
type Tap func(dir Direction, event string, payload []byte)

// Bridge is the mode-agnostic relay surface the session gateway drives.
//
// Configure must be acknowledged by the upstream provider before any other
// method is used. Inject appends a directive to the live conversation; the
// streaming provider cannot replace its configuration after first use, so
// injection is the only persistence mechanism for behavioral changes.
type Bridge interface {
	Configure(ctx context.Context, cfg SessionConfig) error
	Relay(ctx context.Context, audio []byte) error
	Inject(ctx context.Context, text string) error
	Trigger(ctx context.Context, kind TriggerKind) error
	Mode() Mode
	Close() error
}
