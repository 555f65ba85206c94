package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fluentvoice/lesson-gateway/internal/audio"
	"github.com/fluentvoice/lesson-gateway/internal/metrics"
)

// LegacyConfig configures the fallback bridge.
type LegacyConfig struct {
	STT        *STTRouter
	TTS        *TTSRouter
	Completer  Completer
	VADConfig  audio.VADConfig
	SampleRate int // client input sample rate
	OnEvent    EventCallback
	Tap        Tap
	MaxHistory int // exchanges kept in the rolling window; 0 = default
}

const defaultMaxHistory = 12

// exchange is one user→assistant pair in the rolling history.
type exchange struct {
	user      string
	assistant string
}

// LegacyBridge implements the discrete fallback pipeline: buffer audio until
// the endpoint detector declares silence, transcribe, run one completion over
// rolling instructions and history, synthesize the reply. Unlike the
// streaming provider its instructions are rebuilt per call, so Inject simply
// extends them.
type LegacyBridge struct {
	cfg LegacyConfig
	vad *audio.VAD

	mu           sync.Mutex
	instructions string
	voice        string
	directives   []string
	history      []exchange
	configured   bool
}

// NewLegacyBridge creates an unconfigured legacy bridge.
func NewLegacyBridge(cfg LegacyConfig) *LegacyBridge {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	return &LegacyBridge{
		cfg: cfg,
		vad: audio.NewVAD(cfg.VADConfig),
	}
}

// Mode reports the bridge kind.
func (b *LegacyBridge) Mode() Mode { return ModeLegacy }

// Configure records the instruction set and voice. The legacy pipeline has no
// upstream session, so configuration is acknowledged locally and immediately.
func (b *LegacyBridge) Configure(ctx context.Context, cfg SessionConfig) error {
	if b.cfg.STT == nil || b.cfg.TTS == nil || b.cfg.Completer == nil {
		return ConfigError("legacy bridge vendors not configured", nil)
	}
	b.mu.Lock()
	b.instructions = cfg.Instructions
	b.voice = cfg.VoiceID
	b.configured = true
	b.mu.Unlock()
	b.tap(DirOutbound, "legacy.configure", nil)
	return nil
}

// Relay feeds one PCM frame into the endpoint detector; a detected speech end
// runs the full transcribe → complete → synthesize exchange.
func (b *LegacyBridge) Relay(ctx context.Context, audioBytes []byte) error {
	b.mu.Lock()
	ready := b.configured
	b.mu.Unlock()
	if !ready {
		return fmt.Errorf("relay before configure")
	}

	samples := audio.DecodePCM(audioBytes)
	resampled := audio.Resample(samples, b.cfg.SampleRate, 16000)

	result := b.vad.Process(resampled)
	if !result.SpeechEnded {
		return nil
	}

	metrics.SpeechSegments.Inc()
	return b.runExchange(ctx, result.Audio)
}

// Inject extends the rolling instruction set for all subsequent completions.
func (b *LegacyBridge) Inject(ctx context.Context, text string) error {
	b.mu.Lock()
	b.directives = append(b.directives, text)
	b.mu.Unlock()
	b.tap(DirOutbound, "legacy.inject", []byte(text))
	return nil
}

// Trigger generates an assistant opening without student input.
func (b *LegacyBridge) Trigger(ctx context.Context, kind TriggerKind) error {
	b.mu.Lock()
	ready := b.configured
	b.mu.Unlock()
	if !ready {
		return fmt.Errorf("trigger before configure")
	}

	var prompt string
	switch kind {
	case TriggerGreeting:
		prompt = "(The student has just connected. Greet them and open the lesson.)"
	case TriggerResume:
		prompt = "(The lesson is resuming after a pause. Welcome the student back and continue where you left off. Do not restart the lesson.)"
	default:
		return fmt.Errorf("unknown trigger kind %q", kind)
	}
	return b.completeAndSpeak(ctx, prompt, false)
}

// Close releases nothing; vendor clients are shared and owned by the caller.
func (b *LegacyBridge) Close() error { return nil }

// Flush processes any speech still buffered in the endpoint detector.
func (b *LegacyBridge) Flush(ctx context.Context) error {
	remaining := b.vad.Flush()
	if len(remaining) == 0 {
		return nil
	}
	metrics.SpeechSegments.Inc()
	return b.runExchange(ctx, remaining)
}

func (b *LegacyBridge) runExchange(ctx context.Context, speech []float32) error {
	sttResult, err := b.cfg.STT.Transcribe(ctx, speech)
	if err != nil {
		return fmt.Errorf("legacy stt: %w", err)
	}
	b.tap(DirInbound, "legacy.transcript", []byte(sttResult.Text))

	transcript := strings.TrimSpace(sttResult.Text)
	if transcript == "" {
		return nil
	}

	b.emit(Event{Type: EventTurnComplete, Speaker: RoleUser, Text: transcript})
	return b.completeAndSpeak(ctx, transcript, true)
}

// completeAndSpeak runs one completion and synthesizes its sentences as they
// stream, so the first audio is ready before generation finishes.
func (b *LegacyBridge) completeAndSpeak(ctx context.Context, input string, record bool) error {
	instructions := b.composedInstructions()
	llmInput := b.formatInput(input)

	sentenceCh := make(chan string, 4)
	var ttsWg sync.WaitGroup
	ttsWg.Add(1)
	go func() {
		defer ttsWg.Done()
		b.consumeSentences(ctx, sentenceCh)
	}()

	var sb sentenceBuffer
	llmResult, err := b.cfg.Completer.Complete(ctx, instructions, llmInput, func(token string) {
		b.emit(Event{Type: EventTranscriptDelta, Speaker: RoleAssistant, Text: token})
		if s := sb.Add(token); s != "" {
			sentenceCh <- s
		}
	})

	if remainder := sb.Flush(); remainder != "" {
		sentenceCh <- remainder
	}
	close(sentenceCh)
	ttsWg.Wait()

	if err != nil {
		return fmt.Errorf("legacy completion: %w", err)
	}

	if record {
		b.mu.Lock()
		b.history = append(b.history, exchange{user: input, assistant: llmResult.Text})
		if len(b.history) > b.cfg.MaxHistory {
			b.history = b.history[len(b.history)-b.cfg.MaxHistory:]
		}
		b.mu.Unlock()
	}

	b.emit(Event{Type: EventTurnComplete, Speaker: RoleAssistant, Text: llmResult.Text})
	return nil
}

func (b *LegacyBridge) consumeSentences(ctx context.Context, sentenceCh <-chan string) {
	// after a failure the channel must still be drained, or the token
	// callback feeding it blocks the whole exchange
	failed := false
	for sentence := range sentenceCh {
		if failed {
			continue
		}
		ttsResult, err := b.cfg.TTS.Synthesize(ctx, sentence, TTSOptions{Voice: b.currentVoice()})
		if err != nil {
			slog.Error("legacy tts sentence", "error", err, "text", sentence)
			b.emit(Event{Type: EventError, Err: fmt.Errorf("legacy tts: %w", err)})
			failed = true
			continue
		}
		b.emit(Event{Type: EventAudio, Speaker: RoleAssistant, Audio: ttsResult.Audio})
	}
}

func (b *LegacyBridge) currentVoice() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voice
}

// composedInstructions joins the base instructions with injected directives,
// which keeps directives visible to every completion in this mode.
func (b *LegacyBridge) composedInstructions() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.directives) == 0 {
		return b.instructions
	}
	var sb strings.Builder
	sb.WriteString(b.instructions)
	for _, d := range b.directives {
		sb.WriteString("\n")
		sb.WriteString(d)
	}
	return sb.String()
}

func (b *LegacyBridge) formatInput(current string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return current
	}
	var sb strings.Builder
	for _, t := range b.history {
		fmt.Fprintf(&sb, "Student: %s\nTutor: %s\n", t.user, t.assistant)
	}
	fmt.Fprintf(&sb, "Student: %s", current)
	return sb.String()
}

func (b *LegacyBridge) emit(ev Event) {
	if b.cfg.OnEvent != nil {
		b.cfg.OnEvent(ev)
	}
}

func (b *LegacyBridge) tap(dir Direction, event string, payload []byte) {
	if b.cfg.Tap != nil {
		b.cfg.Tap(dir, event, payload)
	}
}
