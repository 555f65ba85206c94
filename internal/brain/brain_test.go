package brain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/lesson-gateway/internal/store"
)

type fakeKnowledgeStore struct {
	mu       sync.Mutex
	events   []store.KnowledgeEvent
	seen     map[string]bool // turnID+type+dedupKey
	snapshot *store.StudentKnowledge
	recaps   map[string]string
}

func newFakeKnowledgeStore() *fakeKnowledgeStore {
	return &fakeKnowledgeStore{
		seen:   make(map[string]bool),
		recaps: make(map[string]string),
	}
}

func (f *fakeKnowledgeStore) InsertKnowledgeEvent(ctx context.Context, ev *store.KnowledgeEvent, dedupKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ev.TurnID + "|" + ev.EventType + "|" + dedupKey
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.events = append(f.events, *ev)
	return true, nil
}

func (f *fakeKnowledgeStore) GetStudentKnowledge(ctx context.Context, studentID string) (*store.StudentKnowledge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		f.snapshot = &store.StudentKnowledge{
			StudentID:  studentID,
			Vocabulary: make(map[string]store.VocabEntry),
			Grammar:    make(map[string]store.GrammarStat),
		}
	}
	cp := *f.snapshot
	return &cp, nil
}

func (f *fakeKnowledgeStore) SaveStudentKnowledge(ctx context.Context, sk *store.StudentKnowledge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sk
	f.snapshot = &cp
	return nil
}

func (f *fakeKnowledgeStore) SaveLessonRecap(ctx context.Context, lessonID, studentID, recap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recaps[lessonID] = recap
	return nil
}

func (f *fakeKnowledgeStore) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.EventType
	}
	return out
}

func newTestBrain(fs *fakeKnowledgeStore) *Brain {
	return New(Config{
		Store:     fs,
		StudentID: "student-1",
		LessonID:  "lesson-1",
		Enabled:   true,
		QueueSize: 16,
	})
}

func TestLessonAnalysisEndToEnd(t *testing.T) {
	fs := newFakeKnowledgeStore()
	b := newTestBrain(fs)

	turns := []store.Turn{
		{ID: "t1", Speaker: store.SpeakerUser, Text: "Yesterday I goed to the park"},
		{ID: "t2", Speaker: store.SpeakerAssistant, Text: "Oh nice, what did you do there?"},
		{ID: "t3", Speaker: store.SpeakerUser, Text: "I writed a letter to my friend"},
		{ID: "t4", Speaker: store.SpeakerAssistant, Text: "You wrote a letter, lovely!"},
	}
	for _, tr := range turns {
		b.Enqueue(tr)
	}

	recap, err := b.FinishLesson(context.Background(), 3, turns)
	require.NoError(t, err)

	assert.Contains(t, recap, "Lesson 3")
	assert.Contains(t, recap, "wrote")
	assert.Contains(t, recap, "past_simple_irregular")

	types := fs.eventTypes()
	assert.Contains(t, types, "grammar_pattern")
	assert.Contains(t, types, "weak_word")

	sk := fs.snapshot
	require.NotNil(t, sk)
	assert.Equal(t, 1, sk.LessonCount)

	stat := sk.Grammar["past_simple_irregular"]
	assert.Equal(t, 1, stat.Attempts)
	assert.Equal(t, 1, stat.Mistakes)
	assert.Equal(t, 0.0, stat.Mastery)

	entry := sk.Vocabulary["wrote"]
	assert.Equal(t, "weak", entry.Strength)
	assert.Equal(t, 1, entry.Frequency)

	assert.Equal(t, recap, fs.recaps["lesson-1"])
}

func TestReplayedTurnCountsOnce(t *testing.T) {
	fs := newFakeKnowledgeStore()
	b := newTestBrain(fs)

	turn := store.Turn{ID: "t1", Speaker: store.SpeakerUser, Text: "Yesterday I goed to the park"}
	b.Enqueue(turn)
	b.Enqueue(turn)

	_, err := b.FinishLesson(context.Background(), 1, []store.Turn{turn})
	require.NoError(t, err)

	assert.Len(t, fs.events, 1)
	stat := fs.snapshot.Grammar["past_simple_irregular"]
	assert.Equal(t, 1, stat.Attempts)
	assert.Equal(t, 1, stat.Mistakes)
}

func TestMasteryRecovery(t *testing.T) {
	fs := newFakeKnowledgeStore()
	b := newTestBrain(fs)

	b.Enqueue(store.Turn{ID: "t1", Speaker: store.SpeakerUser, Text: "She like coffee"})
	b.Enqueue(store.Turn{ID: "t2", Speaker: store.SpeakerUser, Text: "She likes tea too"})

	_, err := b.FinishLesson(context.Background(), 1, nil)
	require.NoError(t, err)

	stat := fs.snapshot.Grammar["third_person_s"]
	assert.Equal(t, 2, stat.Attempts)
	assert.Equal(t, 1, stat.Mistakes)
	assert.InDelta(t, 0.5, stat.Mastery, 0.001)
}

func TestDisabledPipelineDoesNothing(t *testing.T) {
	fs := newFakeKnowledgeStore()
	b := New(Config{Store: fs, StudentID: "student-1", LessonID: "lesson-1", Enabled: false})

	b.Enqueue(store.Turn{ID: "t1", Speaker: store.SpeakerUser, Text: "Yesterday I goed to the park"})

	recap, err := b.FinishLesson(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, recap)
	assert.Empty(t, fs.events)
	assert.Empty(t, fs.recaps)
}

func TestShutdownStopsWorker(t *testing.T) {
	fs := newFakeKnowledgeStore()
	b := newTestBrain(fs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Shutdown(ctx))
}
