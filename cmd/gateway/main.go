package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/fluentvoice/lesson-gateway/internal/brain"
	"github.com/fluentvoice/lesson-gateway/internal/lesson"
	"github.com/fluentvoice/lesson-gateway/internal/provider"
	"github.com/fluentvoice/lesson-gateway/internal/rules"
	"github.com/fluentvoice/lesson-gateway/internal/session"
	"github.com/fluentvoice/lesson-gateway/internal/store"
	"github.com/fluentvoice/lesson-gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	st, err := store.Open(cfg.databaseURL)
	if err != nil {
		slog.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	openaiClient := openai.NewClient(option.WithAPIKey(cfg.openaiAPIKey))

	// Speech recognition vendors for the fallback pipeline
	sttVendors := map[string]provider.Transcriber{
		"openai": provider.NewOpenAITranscriber(openaiClient, cfg.sttModel),
	}
	sttSecondary := ""
	if cfg.whisperURL != "" {
		sttVendors["whisper"] = provider.NewWhisperTranscriber(cfg.whisperURL, cfg.sttPool)
		sttSecondary = "whisper"
	}
	sttRouter := provider.NewSTTRouter(sttVendors, "openai", sttSecondary)

	// Synthesis vendors
	ttsHTTP := provider.NewPooledHTTPClient(cfg.ttsPool, 30*time.Second)
	ttsVendors := map[string]provider.Synthesizer{
		"openai": provider.NewOpenAISynthesizer(openaiClient, cfg.ttsModel, cfg.ttsVoice),
	}
	ttsSecondary := ""
	if cfg.elevenlabsAPIKey != "" {
		ttsVendors["elevenlabs"] = provider.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, ttsHTTP)
		ttsSecondary = "elevenlabs"
	}
	ttsRouter := provider.NewTTSRouter(ttsVendors, "openai", ttsSecondary)

	modelProvider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		APIKey: param.NewOpt(cfg.openaiAPIKey),
	})
	completer := provider.NewAgentCompleter(modelProvider, cfg.llmModel, cfg.llmMaxTokens)

	registrar := lesson.NewRegistrar(st)

	streamingEnabled := cfg.streamingURL != "" && cfg.streamingAPIKey != ""
	if !streamingEnabled {
		slog.Warn("streaming provider not configured, all sessions use the fallback pipeline")
	}

	bridges := func(mode provider.Mode, onEvent provider.EventCallback) (provider.Bridge, error) {
		switch mode {
		case provider.ModeStreaming:
			return provider.NewStreamingBridge(provider.StreamingConfig{
				URL:        cfg.streamingURL,
				APIKey:     cfg.streamingAPIKey,
				AckTimeout: cfg.ackTimeout,
				OnEvent:    onEvent,
			}), nil
		case provider.ModeLegacy:
			return provider.NewLegacyBridge(provider.LegacyConfig{
				STT:        sttRouter,
				TTS:        ttsRouter,
				Completer:  completer,
				VADConfig:  cfg.vadConfig,
				SampleRate: cfg.sampleRate,
				OnEvent:    onEvent,
			}), nil
		default:
			return nil, fmt.Errorf("unknown bridge mode %q", mode)
		}
	}

	gateways := func(client session.Client) *session.Gateway {
		return session.NewGateway(session.Config{
			Store:     st,
			Registrar: registrar,
			Client:    client,
			Bridges:   bridges,
			NewRuleManager: func(studentID string) session.RuleManager {
				return rules.NewManager(st, studentID, cfg.reminderInterval)
			},
			NewAnalyzer: func(studentID, lessonID string) session.Analyzer {
				return brain.New(brain.Config{
					Store:     st,
					StudentID: studentID,
					LessonID:  lessonID,
					Enabled:   cfg.analysisEnabled,
					QueueSize: cfg.analysisQueueSize,
				})
			},
			Summarizer:       completer,
			VoiceID:          cfg.ttsVoice,
			StreamingEnabled: streamingEnabled,
			GracePeriod:      cfg.gracePeriod,
		})
	}

	handler := ws.NewHandler(ws.HandlerConfig{
		Gateways:      gateways,
		MaxConcurrent: cfg.maxConcurrentSessions,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		store:     st,
		wsHandler: handler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("lesson gateway starting", "addr", addr, "streaming", streamingEnabled, "max_concurrent", cfg.maxConcurrentSessions)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("lesson gateway stopped")
}
