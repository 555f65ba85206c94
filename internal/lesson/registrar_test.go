package lesson

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/lesson-gateway/internal/store"
)

type fakeLessonStore struct {
	students  map[string]bool
	latest    *store.Lesson
	completed int
	created   []*store.Lesson
	profile   map[string]string
}

func newFakeLessonStore() *fakeLessonStore {
	return &fakeLessonStore{students: make(map[string]bool), profile: make(map[string]string)}
}

func (f *fakeLessonStore) EnsureStudent(ctx context.Context, id string) error {
	f.students[id] = true
	return nil
}

func (f *fakeLessonStore) LatestLesson(ctx context.Context, studentID string) (*store.Lesson, error) {
	if f.latest == nil {
		return nil, store.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeLessonStore) CompletedLessonCount(ctx context.Context, studentID string) (int, error) {
	return f.completed, nil
}

func (f *fakeLessonStore) CreateLesson(ctx context.Context, l *store.Lesson) error {
	l.ID = "lesson-created"
	f.created = append(f.created, l)
	return nil
}

func (f *fakeLessonStore) SaveStudentProfile(ctx context.Context, id, name, preferredName, level, goals string) error {
	f.profile["id"] = id
	f.profile["name"] = name
	f.profile["preferred_name"] = preferredName
	f.profile["level"] = level
	f.profile["goals"] = goals
	return nil
}

func TestNewStudentGetsOnboardingLesson(t *testing.T) {
	fs := newFakeLessonStore()
	r := NewRegistrar(fs)

	l, err := r.GetOrCreateLesson(context.Background(), "student-1")
	require.NoError(t, err)

	assert.Equal(t, 1, l.LessonNumber)
	assert.True(t, l.IsFirstLesson)
	assert.True(t, fs.students["student-1"])
	require.Len(t, fs.created, 1)
}

func TestOpenLessonIsReused(t *testing.T) {
	fs := newFakeLessonStore()
	fs.latest = &store.Lesson{ID: "lesson-7", LessonNumber: 7}
	r := NewRegistrar(fs)

	l, err := r.GetOrCreateLesson(context.Background(), "student-1")
	require.NoError(t, err)

	assert.Equal(t, "lesson-7", l.ID)
	assert.Empty(t, fs.created, "no new lesson while one is open")
}

func TestReturningStudentGetsNextNumber(t *testing.T) {
	done := time.Now()
	fs := newFakeLessonStore()
	fs.latest = &store.Lesson{ID: "lesson-2", LessonNumber: 2, CompletedAt: &done}
	fs.completed = 2
	r := NewRegistrar(fs)

	l, err := r.GetOrCreateLesson(context.Background(), "student-1")
	require.NoError(t, err)

	assert.Equal(t, 3, l.LessonNumber)
	assert.False(t, l.IsFirstLesson)
}

func TestSaveProfile(t *testing.T) {
	fs := newFakeLessonStore()
	r := NewRegistrar(fs)

	raw := []byte(`{"name":"Anna","preferred_name":"Ann","self_rated_level":"beginner","goals":"travel"}`)
	require.NoError(t, r.SaveProfile(context.Background(), "student-1", raw))

	assert.Equal(t, "Anna", fs.profile["name"])
	assert.Equal(t, "Ann", fs.profile["preferred_name"])
	assert.Equal(t, "beginner", fs.profile["level"])
	assert.Equal(t, "travel", fs.profile["goals"])
}

func TestSaveProfileRejectsMissingName(t *testing.T) {
	fs := newFakeLessonStore()
	r := NewRegistrar(fs)

	err := r.SaveProfile(context.Background(), "student-1", []byte(`{"goals":"travel"}`))
	require.Error(t, err)
	assert.Empty(t, fs.profile)
}

func TestSaveProfileRejectsMalformedPayload(t *testing.T) {
	fs := newFakeLessonStore()
	r := NewRegistrar(fs)

	err := r.SaveProfile(context.Background(), "student-1", []byte(`not json`))
	require.Error(t, err)
}
