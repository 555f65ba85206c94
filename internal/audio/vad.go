package audio

import (
	"math"
	"time"
)

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	SpeechThresholdDB float64
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	PreSpeechBuffer   time.Duration
	SampleRate        int
}

// DefaultVADConfig returns defaults tuned for close-mic conversational speech.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    1000 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
		PreSpeechBuffer:   300 * time.Millisecond,
		SampleRate:        16000,
	}
}

// VADResult holds the output of processing an audio chunk.
type VADResult struct {
	SpeechEnded bool
	Audio       []float32
}

// VAD is an energy-based speech endpoint detector. It buffers audio from the
// first frame above the threshold until silence has lasted SilenceTimeout,
// prepending up to PreSpeechBuffer of lead-in so word onsets are not clipped.
type VAD struct {
	cfg       VADConfig
	active    bool
	startedAt time.Time
	lastVoice time.Time
	segment   []float32
	leadIn    []float32
	leadInMax int
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	n := int(cfg.PreSpeechBuffer.Seconds() * float64(cfg.SampleRate))
	return &VAD{cfg: cfg, leadInMax: n, leadIn: make([]float32, 0, n)}
}

// Process feeds one audio chunk through the detector. It returns a completed
// segment only when trailing silence closes one out.
func (v *VAD) Process(samples []float32) VADResult {
	now := time.Now()
	voiced := computeEnergyDB(samples) >= v.cfg.SpeechThresholdDB

	switch {
	case voiced && !v.active:
		v.active = true
		v.startedAt = now
		v.lastVoice = now
		v.segment = append(v.segment, v.leadIn...)
		v.segment = append(v.segment, samples...)
		v.leadIn = v.leadIn[:0]

	case voiced:
		v.lastVoice = now
		v.segment = append(v.segment, samples...)
		v.leadIn = v.leadIn[:0]

	case !v.active:
		// idle silence still feeds the lead-in ring
		v.leadIn = append(v.leadIn, samples...)
		if over := len(v.leadIn) - v.leadInMax; over > 0 {
			v.leadIn = v.leadIn[over:]
		}

	default:
		v.segment = append(v.segment, samples...)
		if now.Sub(v.lastVoice) < v.cfg.SilenceTimeout {
			break
		}
		v.active = false
		if now.Sub(v.startedAt) < v.cfg.MinSpeechDuration {
			// a blip, not speech
			v.segment = v.segment[:0]
			break
		}
		seg := v.segment
		v.segment = nil
		return VADResult{SpeechEnded: true, Audio: seg}
	}
	return VADResult{}
}

// Flush returns whatever speech is still buffered and resets the detector.
func (v *VAD) Flush() []float32 {
	if len(v.segment) == 0 {
		return nil
	}
	seg := v.segment
	v.segment = nil
	v.active = false
	return seg
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
