package provider

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/lesson-gateway/internal/audio"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []float32) (*STTResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &STTResult{Text: f.text}, nil
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return []byte("wav:" + text), nil
}

type fakeCompleter struct {
	mu           sync.Mutex
	reply        string
	tokens       []string // streamed instead of reply when set
	instructions []string
	inputs       []string
}

func (f *fakeCompleter) Complete(ctx context.Context, instructions, input string, onToken TokenCallback) (*LLMResult, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, instructions)
	f.inputs = append(f.inputs, input)
	reply := f.reply
	tokens := f.tokens
	f.mu.Unlock()
	if len(tokens) == 0 {
		tokens = []string{reply}
	}
	if onToken != nil {
		for _, tok := range tokens {
			onToken(tok)
		}
	}
	return &LLMResult{Text: reply}, nil
}

type legacyFixture struct {
	stt    *fakeTranscriber
	tts    *fakeSynthesizer
	llm    *fakeCompleter
	bridge *LegacyBridge

	mu     sync.Mutex
	events []Event
}

// events arrive from both the completion callback and the synthesis worker.
func (f *legacyFixture) record(ev Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *legacyFixture) snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func newLegacyFixture(t *testing.T) *legacyFixture {
	t.Helper()
	f := &legacyFixture{
		stt: &fakeTranscriber{text: "I writed a letter"},
		tts: &fakeSynthesizer{},
		llm: &fakeCompleter{reply: "You wrote a letter, nice. What was it about?"},
	}
	vad := audio.DefaultVADConfig()
	f.bridge = NewLegacyBridge(LegacyConfig{
		STT:        NewSTTRouter(map[string]Transcriber{"fake": f.stt}, "fake", ""),
		TTS:        NewTTSRouter(map[string]Synthesizer{"fake": f.tts}, "fake", ""),
		Completer:  f.llm,
		VADConfig:  vad,
		SampleRate: 16000,
		OnEvent:    f.record,
	})
	require.NoError(t, f.bridge.Configure(context.Background(), SessionConfig{Instructions: "Teach kindly.", VoiceID: "verse"}))
	return f
}

// loudFrame is half-amplitude PCM, comfortably above the speech threshold.
func loudFrame(samples int) []byte {
	buf := make([]float32, samples)
	for i := range buf {
		buf[i] = 0.5
	}
	return audio.EncodePCM(buf)
}

func (f *legacyFixture) eventOf(typ EventType) (Event, bool) {
	for _, ev := range f.snapshot() {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

func TestLegacyExchange(t *testing.T) {
	f := newLegacyFixture(t)
	ctx := context.Background()

	// a second of speech buffered by the endpoint detector, then a flush
	require.NoError(t, f.bridge.Relay(ctx, loudFrame(16000)))
	require.NoError(t, f.bridge.Flush(ctx))

	userTurn, ok := f.eventOf(EventTurnComplete)
	require.True(t, ok)
	assert.Equal(t, RoleUser, userTurn.Speaker)
	assert.Equal(t, "I writed a letter", userTurn.Text)

	audioEv, ok := f.eventOf(EventAudio)
	require.True(t, ok)
	assert.NotEmpty(t, audioEv.Audio)

	var assistantTurn Event
	for _, ev := range f.snapshot() {
		if ev.Type == EventTurnComplete && ev.Speaker == RoleAssistant {
			assistantTurn = ev
		}
	}
	assert.Equal(t, f.llm.reply, assistantTurn.Text)

	// synthesis was sentence-pipelined, not one monolithic call
	assert.Len(t, f.tts.texts, 2)
}

func TestLegacyHistoryCarriesIntoNextExchange(t *testing.T) {
	f := newLegacyFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bridge.Relay(ctx, loudFrame(16000)))
	require.NoError(t, f.bridge.Flush(ctx))
	require.NoError(t, f.bridge.Relay(ctx, loudFrame(16000)))
	require.NoError(t, f.bridge.Flush(ctx))

	require.Len(t, f.llm.inputs, 2)
	assert.Equal(t, "I writed a letter", f.llm.inputs[0])
	assert.Contains(t, f.llm.inputs[1], "Student: I writed a letter")
	assert.Contains(t, f.llm.inputs[1], "Tutor: "+f.llm.reply)
}

func TestLegacyInjectExtendsInstructions(t *testing.T) {
	f := newLegacyFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bridge.Inject(ctx, "Directive: speak slower."))
	require.NoError(t, f.bridge.Trigger(ctx, TriggerGreeting))

	require.Len(t, f.llm.instructions, 1)
	assert.Contains(t, f.llm.instructions[0], "Teach kindly.")
	assert.Contains(t, f.llm.instructions[0], "Directive: speak slower.")
}

func TestLegacyEmptyTranscriptSkipsCompletion(t *testing.T) {
	f := newLegacyFixture(t)
	f.stt.text = "   "
	ctx := context.Background()

	require.NoError(t, f.bridge.Relay(ctx, loudFrame(16000)))
	require.NoError(t, f.bridge.Flush(ctx))

	assert.Empty(t, f.llm.inputs)
	assert.Empty(t, f.snapshot())
}

type brokenSynthesizer struct{}

func (brokenSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	return nil, errors.New("tts down")
}

func TestLegacySynthesisFailureDoesNotStallExchange(t *testing.T) {
	f := newLegacyFixture(t)
	f.bridge.cfg.TTS = NewTTSRouter(map[string]Synthesizer{"fake": brokenSynthesizer{}}, "fake", "")

	// far more sentences than the pipeline buffers, streamed one at a time
	tokens := make([]string, 12)
	for i := range tokens {
		tokens[i] = "Sentence number " + strconv.Itoa(i) + ". "
	}
	f.llm.tokens = tokens

	done := make(chan error, 1)
	go func() { done <- f.bridge.Trigger(context.Background(), TriggerGreeting) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("exchange did not finish after synthesis failure")
	}

	errEv, ok := f.eventOf(EventError)
	require.True(t, ok)
	assert.ErrorContains(t, errEv.Err, "tts down")
	_, gotAudio := f.eventOf(EventAudio)
	assert.False(t, gotAudio)
}

func TestLegacyConfigureRequiresVendors(t *testing.T) {
	b := NewLegacyBridge(LegacyConfig{})
	err := b.Configure(context.Background(), SessionConfig{})
	require.Error(t, err)
	assert.Equal(t, ClassConfiguration, ClassOf(err))
}

func TestLegacyRelayBeforeConfigure(t *testing.T) {
	b := NewLegacyBridge(LegacyConfig{
		STT:       NewSTTRouter(map[string]Transcriber{}, "", ""),
		TTS:       NewTTSRouter(map[string]Synthesizer{}, "", ""),
		Completer: &fakeCompleter{},
	})
	require.Error(t, b.Relay(context.Background(), []byte{1, 2}))
}
