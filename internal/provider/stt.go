package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/fluentvoice/lesson-gateway/internal/audio"
	"github.com/fluentvoice/lesson-gateway/internal/metrics"
)

// Transcriber produces a transcript from 16 kHz mono audio samples.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (*STTResult, error)
}

// STTResult holds the transcription output.
type STTResult struct {
	Text      string
	LatencyMs float64
}

// STTRouter dispatches transcription to a primary vendor with exactly one
// retry against the secondary when the primary fails within an operation.
type STTRouter struct {
	*Router[Transcriber]
	primary   string
	secondary string
}

// NewSTTRouter creates a router over the registered transcription vendors.
func NewSTTRouter(vendors map[string]Transcriber, primary, secondary string) *STTRouter {
	return &STTRouter{Router: NewRouter(vendors, primary), primary: primary, secondary: secondary}
}

// Transcribe runs the primary vendor, falling back to the secondary once.
func (r *STTRouter) Transcribe(ctx context.Context, samples []float32) (*STTResult, error) {
	backend, err := r.Route(r.primary)
	if err != nil {
		return nil, err
	}

	result, err := backend.Transcribe(ctx, samples)
	if err == nil {
		return result, nil
	}
	metrics.Errors.WithLabelValues("stt", string(ClassOf(err))).Inc()

	fallback, ok := r.vendors[r.secondary]
	if !ok || r.secondary == r.primary {
		return nil, err
	}
	slog.Warn("stt primary failed, retrying secondary", "primary", r.primary, "secondary", r.secondary, "error", err)

	result, ferr := fallback.Transcribe(ctx, samples)
	if ferr != nil {
		metrics.Errors.WithLabelValues("stt", string(ClassOf(ferr))).Inc()
		return nil, fmt.Errorf("stt secondary after primary (%v): %w", err, ferr)
	}
	return result, nil
}

// --- OpenAI transcription backend ---

type openaiTranscriber struct {
	client openai.Client
	model  openai.AudioModel
}

// NewOpenAITranscriber creates the hosted transcription backend.
func NewOpenAITranscriber(client openai.Client, model string) Transcriber {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &openaiTranscriber{client: client, model: openai.AudioModel(model)}
}

func (t *openaiTranscriber) Transcribe(ctx context.Context, samples []float32) (*STTResult, error) {
	start := time.Now()

	wavData := audio.SamplesToWAV(samples, 16000)
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: t.model,
		File:  openai.File(bytes.NewReader(wavData), "audio.wav", "audio/wav"),
	})
	if err != nil {
		return nil, classifyVendor("openai transcription", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("stt").Observe(latency.Seconds())

	return &STTResult{Text: resp.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}

// --- whisper-compatible HTTP backend ---

// MultipartTranscriber sends audio as multipart WAV to any whisper-compatible
// HTTP endpoint. Backends vary only by endpoint path; label is used in error
// messages and logs.
type MultipartTranscriber struct {
	url      string
	endpoint string
	label    string
	client   *http.Client
}

// NewWhisperTranscriber creates a client for a self-hosted whisper server
// exposing the /inference endpoint.
func NewWhisperTranscriber(url string, poolSize int) *MultipartTranscriber {
	return &MultipartTranscriber{
		url:      url,
		endpoint: "/inference",
		label:    "whisper",
		client:   NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// Transcribe sends float32 samples (16 kHz mono) as multipart WAV.
func (c *MultipartTranscriber) Transcribe(ctx context.Context, samples []float32) (*STTResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.label, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, TransientError(fmt.Sprintf("%s request", c.label), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(fmt.Sprintf("%s: %s", c.label, respBody), resp.StatusCode, nil)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.label, err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("stt").Observe(latency.Seconds())

	return &STTResult{Text: result.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}

	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
