package main

import (
	"os"
	"strconv"
	"time"

	"github.com/fluentvoice/lesson-gateway/internal/audio"
	"github.com/fluentvoice/lesson-gateway/internal/rules"
)

type config struct {
	port        string
	databaseURL string

	streamingURL    string
	streamingAPIKey string
	ackTimeout      time.Duration

	openaiAPIKey string
	llmModel     string
	llmMaxTokens int

	sttModel   string
	whisperURL string
	sttPool    int

	ttsModel          string
	ttsVoice          string
	ttsPool           int
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string

	vadConfig  audio.VADConfig
	sampleRate int

	maxConcurrentSessions int
	gracePeriod           time.Duration
	reminderInterval      int
	analysisEnabled       bool
	analysisQueueSize     int
}

func loadConfig() config {
	vad := audio.DefaultVADConfig()
	vad.SpeechThresholdDB = envFloat("VAD_SPEECH_THRESHOLD_DB", vad.SpeechThresholdDB)

	return config{
		port:        envStr("GATEWAY_PORT", "8000"),
		databaseURL: envStr("DATABASE_URL", "postgres://localhost:5432/lessons"),

		streamingURL:    envStr("STREAMING_PROVIDER_URL", ""),
		streamingAPIKey: envStr("STREAMING_PROVIDER_API_KEY", ""),
		ackTimeout:      envDur("STREAMING_ACK_TIMEOUT", 10*time.Second),

		openaiAPIKey: envStr("OPENAI_API_KEY", ""),
		llmModel:     envStr("LLM_MODEL", "gpt-4o-mini"),
		llmMaxTokens: envInt("LLM_MAX_TOKENS", 300),

		sttModel:   envStr("STT_MODEL", "whisper-1"),
		whisperURL: envStr("WHISPER_SERVER_URL", ""),
		sttPool:    envInt("STT_POOL_SIZE", 50),

		ttsModel:          envStr("TTS_MODEL", "tts-1"),
		ttsVoice:          envStr("TTS_VOICE", "alloy"),
		ttsPool:           envInt("TTS_POOL_SIZE", 50),
		elevenlabsAPIKey:  envStr("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID: envStr("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID: envStr("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),

		vadConfig:  vad,
		sampleRate: envInt("CLIENT_SAMPLE_RATE", 16000),

		maxConcurrentSessions: envInt("MAX_CONCURRENT_SESSIONS", 100),
		gracePeriod:           envDur("SESSION_GRACE_PERIOD", 15*time.Second),
		reminderInterval:      envInt("RULE_REMINDER_INTERVAL", rules.DefaultReminderInterval),
		analysisEnabled:       envBool("ANALYSIS_ENABLED", true),
		analysisQueueSize:     envInt("ANALYSIS_QUEUE_SIZE", 64),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func envDur(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
