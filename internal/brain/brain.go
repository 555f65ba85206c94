// Package brain is the background analysis pipeline: it consumes completed
// turns, emits knowledge events and evolves the per-student knowledge
// snapshot. It is best-effort by contract and never adds latency to the live
// conversation path.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluentvoice/lesson-gateway/internal/metrics"
	"github.com/fluentvoice/lesson-gateway/internal/store"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	InsertKnowledgeEvent(ctx context.Context, ev *store.KnowledgeEvent, dedupKey string) (bool, error)
	GetStudentKnowledge(ctx context.Context, studentID string) (*store.StudentKnowledge, error)
	SaveStudentKnowledge(ctx context.Context, sk *store.StudentKnowledge) error
	SaveLessonRecap(ctx context.Context, lessonID, studentID, recap string) error
}

// Config configures one analysis pipeline instance. Enabled is an explicit
// per-session value, not a process-wide flag.
type Config struct {
	Store     Store
	StudentID string
	LessonID  string
	Enabled   bool
	QueueSize int
}

const defaultQueueSize = 64

// analyzeTimeout bounds the persistence work done for one turn.
const analyzeTimeout = 10 * time.Second

// Brain analyzes one lesson's turn stream on a single worker goroutine, so
// knowledge events are created in turn order regardless of caller timing.
type Brain struct {
	cfg       Config
	queue     chan store.Turn
	done      chan struct{}
	closeOnce sync.Once

	mu              sync.Mutex
	lastUserText    string
	weakWords       []string
	grammarMistakes []string
}

// New creates a pipeline and starts its worker.
func New(cfg Config) *Brain {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	b := &Brain{
		cfg:   cfg,
		queue: make(chan store.Turn, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go b.worker()
	return b
}

// Enqueue hands a completed turn to the pipeline without blocking. When the
// queue is full the turn is dropped and counted; the snapshot is best-effort.
func (b *Brain) Enqueue(t store.Turn) {
	if !b.cfg.Enabled {
		return
	}
	select {
	case b.queue <- t:
		metrics.AnalysisQueueDepth.Set(float64(len(b.queue)))
	default:
		metrics.AnalysisDropped.Inc()
		slog.Warn("analysis queue full, turn dropped", "lesson_id", b.cfg.LessonID, "turn_index", t.TurnIndex)
	}
}

func (b *Brain) worker() {
	defer close(b.done)
	for t := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
		if err := b.analyze(ctx, t); err != nil {
			slog.Error("turn analysis", "error", err, "turn_id", t.ID)
		}
		cancel()
		metrics.AnalysisQueueDepth.Set(float64(len(b.queue)))
	}
}

// analyze inspects the most recent exchange for recasting and shallow
// grammar-pattern matches, emitting one typed knowledge event per detection
// and updating the snapshot idempotently.
func (b *Brain) analyze(ctx context.Context, t store.Turn) error {
	switch t.Speaker {
	case store.SpeakerUser:
		b.mu.Lock()
		b.lastUserText = t.Text
		b.mu.Unlock()
		return b.analyzeGrammar(ctx, t)
	case store.SpeakerAssistant:
		return b.analyzeRecasts(ctx, t)
	}
	return nil
}

func (b *Brain) analyzeGrammar(ctx context.Context, t store.Turn) error {
	for _, hit := range matchGrammar(t.Text) {
		payload, err := json.Marshal(map[string]any{"pattern": hit.pattern, "mistake": hit.mistake})
		if err != nil {
			return fmt.Errorf("encode grammar payload: %w", err)
		}
		inserted, err := b.cfg.Store.InsertKnowledgeEvent(ctx, &store.KnowledgeEvent{
			LessonID:  b.cfg.LessonID,
			TurnID:    t.ID,
			EventType: "grammar_pattern",
			Payload:   payload,
		}, hit.pattern)
		if err != nil {
			return err
		}
		if !inserted {
			continue // replayed turn, already counted
		}
		metrics.KnowledgeEvents.WithLabelValues("grammar_pattern").Inc()
		if err = b.applyGrammar(ctx, hit); err != nil {
			return err
		}
		if hit.mistake {
			b.mu.Lock()
			b.grammarMistakes = append(b.grammarMistakes, hit.pattern)
			b.mu.Unlock()
		}
	}
	return nil
}

func (b *Brain) analyzeRecasts(ctx context.Context, t store.Turn) error {
	b.mu.Lock()
	userText := b.lastUserText
	b.mu.Unlock()
	if userText == "" {
		return nil
	}

	for _, rc := range detectRecasts(userText, t.Text) {
		payload, err := json.Marshal(rc)
		if err != nil {
			return fmt.Errorf("encode recast payload: %w", err)
		}
		inserted, err := b.cfg.Store.InsertKnowledgeEvent(ctx, &store.KnowledgeEvent{
			LessonID:  b.cfg.LessonID,
			TurnID:    t.ID,
			EventType: "weak_word",
			Payload:   payload,
		}, rc.Corrected)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		metrics.KnowledgeEvents.WithLabelValues("weak_word").Inc()
		if err = b.applyWeakWord(ctx, rc.Corrected); err != nil {
			return err
		}
		b.mu.Lock()
		b.weakWords = append(b.weakWords, rc.Corrected)
		b.mu.Unlock()
	}
	return nil
}

func (b *Brain) applyWeakWord(ctx context.Context, word string) error {
	sk, err := b.cfg.Store.GetStudentKnowledge(ctx, b.cfg.StudentID)
	if err != nil {
		return err
	}
	entry := sk.Vocabulary[word]
	entry.Strength = "weak"
	entry.Frequency++
	entry.LastSeen = time.Now().UTC()
	sk.Vocabulary[word] = entry
	return b.cfg.Store.SaveStudentKnowledge(ctx, sk)
}

func (b *Brain) applyGrammar(ctx context.Context, hit grammarHit) error {
	sk, err := b.cfg.Store.GetStudentKnowledge(ctx, b.cfg.StudentID)
	if err != nil {
		return err
	}
	stat := sk.Grammar[hit.pattern]
	stat.Attempts++
	if hit.mistake {
		stat.Mistakes++
	}
	stat.Mastery = clamp01(1 - float64(stat.Mistakes)/float64(stat.Attempts))
	sk.Grammar[hit.pattern] = stat
	return b.cfg.Store.SaveStudentKnowledge(ctx, sk)
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// FinishLesson drains the queue, bumps the snapshot's lesson count (its only
// mutation point), and stores a short recap that bridges into the next
// lesson. The pipeline accepts no turns afterwards.
func (b *Brain) FinishLesson(ctx context.Context, lessonNumber int, turns []store.Turn) (string, error) {
	b.closeOnce.Do(func() { close(b.queue) })
	select {
	case <-b.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	b.mu.Lock()
	weak := append([]string(nil), b.weakWords...)
	mistakes := append([]string(nil), b.grammarMistakes...)
	b.mu.Unlock()

	recap := composeRecap(lessonNumber, turns, weak, mistakes)

	if b.cfg.Enabled {
		sk, err := b.cfg.Store.GetStudentKnowledge(ctx, b.cfg.StudentID)
		if err != nil {
			return recap, err
		}
		sk.LessonCount++
		if err = b.cfg.Store.SaveStudentKnowledge(ctx, sk); err != nil {
			return recap, err
		}
		if err = b.cfg.Store.SaveLessonRecap(ctx, b.cfg.LessonID, b.cfg.StudentID, recap); err != nil {
			return recap, err
		}
	}
	return recap, nil
}

// Shutdown stops the worker without lesson-end processing, used when a
// session detaches from a lesson that is not finished (pause, disconnect).
func (b *Brain) Shutdown(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.queue) })
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
