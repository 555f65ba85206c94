package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to the database named by TEST_DATABASE_URL. The
// append-turn allocator is transaction and lock behavior, so it only means
// anything against a real PostgreSQL.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestLesson(t *testing.T, st *Store) *Lesson {
	t.Helper()
	ctx := context.Background()
	studentID := uuid.NewString()
	require.NoError(t, st.EnsureStudent(ctx, studentID))
	l := &Lesson{StudentID: studentID, LessonNumber: 1, IsFirstLesson: true}
	require.NoError(t, st.CreateLesson(ctx, l))
	return l
}

func TestAppendTurnAllocatesSequentialIndexes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	l := newTestLesson(t, st)

	for i := range 5 {
		turn := &Turn{LessonID: l.ID, PipelineType: PipelineStreaming, Speaker: SpeakerUser, Text: "turn"}
		require.NoError(t, st.AppendTurn(ctx, turn))
		assert.Equal(t, i, turn.TurnIndex)
	}
}

func TestAppendTurnIndexesAreGapFreeUnderConcurrency(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	l := newTestLesson(t, st)

	const writers, perWriter = 4, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				errs <- st.AppendTurn(ctx, &Turn{
					LessonID: l.ID, PipelineType: PipelineStreaming,
					Speaker: SpeakerUser, Text: "concurrent",
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	turns, err := st.Turns(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, turns, writers*perWriter)
	for i, turn := range turns {
		assert.Equal(t, i, turn.TurnIndex, "index gap or duplicate at position %d", i)
	}
}
