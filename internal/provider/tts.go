package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/fluentvoice/lesson-gateway/internal/metrics"
)

// TTSOptions holds per-utterance synthesis tuning.
type TTSOptions struct {
	Voice string
	Speed float64
}

// Synthesizer produces audio from text.
type Synthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error)
}

// TTSResult holds synthesized audio with timing.
type TTSResult struct {
	Audio     []byte
	LatencyMs float64
}

// TTSRouter dispatches synthesis to a primary vendor with exactly one retry
// against the secondary when the primary fails within an operation.
type TTSRouter struct {
	*Router[Synthesizer]
	primary   string
	secondary string
}

// NewTTSRouter creates a router over the registered synthesis vendors.
func NewTTSRouter(vendors map[string]Synthesizer, primary, secondary string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(vendors, primary), primary: primary, secondary: secondary}
}

// Synthesize runs the primary vendor, falling back to the secondary once,
// and records latency metrics.
func (r *TTSRouter) Synthesize(ctx context.Context, text string, opts TTSOptions) (*TTSResult, error) {
	start := time.Now()

	backend, err := r.Route(r.primary)
	if err != nil {
		return nil, err
	}

	audioData, err := backend.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", string(ClassOf(err))).Inc()
		fallback, ok := r.vendors[r.secondary]
		if !ok || r.secondary == r.primary {
			return nil, err
		}
		slog.Warn("tts primary failed, retrying secondary", "primary", r.primary, "secondary", r.secondary, "error", err)
		audioData, err = fallback.SynthesizeAudio(ctx, text, opts)
		if err != nil {
			metrics.Errors.WithLabelValues("tts", string(ClassOf(err))).Inc()
			return nil, err
		}
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return &TTSResult{Audio: audioData, LatencyMs: float64(latency.Milliseconds())}, nil
}

// --- OpenAI speech backend ---

type openaiSynthesizer struct {
	client openai.Client
	model  openai.SpeechModel
	voice  string
}

// NewOpenAISynthesizer creates the hosted speech backend (returns WAV).
func NewOpenAISynthesizer(client openai.Client, model, voice string) Synthesizer {
	if model == "" {
		model = string(openai.SpeechModelTTS1)
	}
	return &openaiSynthesizer{client: client, model: openai.SpeechModel(model), voice: voice}
}

func (o *openaiSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voice := o.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	params := openai.AudioSpeechNewParams{
		Model:          o.model,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}

	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classifyVendor("openai speech", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// --- ElevenLabs backend (cloud API via api.elevenlabs.io) ---

type elevenlabsSynthesizer struct {
	apiKey  string
	voiceID string
	modelID string
	client  *http.Client
}

// NewElevenLabsSynthesizer creates the ElevenLabs speech backend.
func NewElevenLabsSynthesizer(apiKey, voiceID, modelID string, client *http.Client) Synthesizer {
	return &elevenlabsSynthesizer{apiKey: apiKey, voiceID: voiceID, modelID: modelID, client: client}
}

func (e *elevenlabsSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voiceID := e.voiceID
	if opts.Voice != "" {
		voiceID = opts.Voice
	}
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, TransientError("elevenlabs request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("elevenlabs", resp.StatusCode, nil)
	}

	return io.ReadAll(resp.Body)
}
