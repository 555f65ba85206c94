package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/fluentvoice/lesson-gateway/internal/metrics"
)

// TokenCallback is called for each streamed completion token.
type TokenCallback func(token string)

// LLMResult holds a complete model response with timing.
type LLMResult struct {
	Text               string
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// Completer produces one streamed completion from rolling instructions and input.
type Completer interface {
	Complete(ctx context.Context, instructions, input string, onToken TokenCallback) (*LLMResult, error)
}

// AgentCompleter streams completions through the openai-agents-go SDK,
// resolving the model provider at construction time.
type AgentCompleter struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

// NewAgentCompleter creates a completer bound to one provider and model.
func NewAgentCompleter(provider agents.ModelProvider, model string, maxTokens int) *AgentCompleter {
	return &AgentCompleter{provider: provider, model: model, maxTokens: maxTokens}
}

// Complete streams one completion, invoking onToken per text delta.
func (a *AgentCompleter) Complete(ctx context.Context, instructions, input string, onToken TokenCallback) (*LLMResult, error) {
	agent := agents.New("tutor").
		WithInstructions(instructions).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, input)
	if err != nil {
		return nil, classifyVendor("completion stream start", err)
	}

	var textBuf strings.Builder
	var ttft time.Time
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok {
			continue
		}
		if raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		if onToken != nil {
			onToken(raw.Data.Delta)
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		metrics.Errors.WithLabelValues("llm", string(ClassOf(streamErr))).Inc()
		return nil, classifyVendor("completion stream", streamErr)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	ttftMs := float64(0)
	if !ttft.IsZero() {
		ttftMs = float64(ttft.Sub(start).Milliseconds())
	}

	text := textBuf.String()
	if strings.TrimSpace(text) == "" {
		metrics.EmptyResponses.Inc()
		return nil, EmptyResponseError(fmt.Sprintf("completion produced no content (model %s)", a.model))
	}

	return &LLMResult{
		Text:               text,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMs,
	}, nil
}
