package rules

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/lesson-gateway/internal/store"
)

type fakeRuleStore struct {
	mu       sync.Mutex
	upserted []store.Rule
	active   []store.Rule
}

func (f *fakeRuleStore) UpsertRule(ctx context.Context, r *store.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, *r)
	return nil
}

func (f *fakeRuleStore) ActiveRules(ctx context.Context, studentID string) ([]store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Rule(nil), f.active...), nil
}

func TestDirectiveAppliesSameTurn(t *testing.T) {
	fs := &fakeRuleStore{}
	m := NewManager(fs, "student-1", 8)

	inj, err := m.OnUserTurn(context.Background(), "Can you speak slower please?")
	require.NoError(t, err)
	require.Len(t, inj, 1)

	assert.Equal(t, TypeSpeechPace, inj[0].RuleType)
	assert.Equal(t, KindDirective, inj[0].Kind)
	assert.True(t, inj[0].RequiresAck)
	assert.Contains(t, inj[0].Text, "effective immediately")
	assert.Contains(t, inj[0].Text, "confirm this change aloud")

	require.Len(t, fs.upserted, 1)
	rule := fs.upserted[0]
	assert.Equal(t, store.ScopeStudent, rule.Scope)
	assert.Equal(t, "student-1", rule.StudentID)
	assert.Equal(t, 100, rule.Priority)
	assert.Equal(t, "directive_detector", rule.CreatedBy)
	assert.True(t, rule.IsActive)
}

func TestRussianDirective(t *testing.T) {
	fs := &fakeRuleStore{}
	m := NewManager(fs, "student-1", 8)

	inj, err := m.OnUserTurn(context.Background(), "Пожалуйста, говори медленнее")
	require.NoError(t, err)
	require.Len(t, inj, 1)
	assert.Equal(t, TypeSpeechPace, inj[0].RuleType)
}

func TestPlainSpeechYieldsNothing(t *testing.T) {
	fs := &fakeRuleStore{}
	m := NewManager(fs, "student-1", 8)

	inj, err := m.OnUserTurn(context.Background(), "Yesterday I visited my grandmother")
	require.NoError(t, err)
	assert.Empty(t, inj)
	assert.Empty(t, fs.upserted)
}

func TestMultipleDirectivesInOneTurn(t *testing.T) {
	fs := &fakeRuleStore{}
	m := NewManager(fs, "student-1", 8)

	inj, err := m.OnUserTurn(context.Background(), "Speak slower and please correct my mistakes")
	require.NoError(t, err)
	require.Len(t, inj, 2)
	types := []string{inj[0].RuleType, inj[1].RuleType}
	assert.Contains(t, types, TypeSpeechPace)
	assert.Contains(t, types, TypeCorrectionFrequency)
	assert.Len(t, fs.upserted, 2)
}

func TestReminderCadence(t *testing.T) {
	fs := &fakeRuleStore{
		active: []store.Rule{
			{Type: TypeSpeechPace, Priority: 100, Value: "Speak noticeably slower."},
		},
	}
	m := NewManager(fs, "student-1", 3)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		inj, err := m.OnUserTurn(ctx, "just talking about my day")
		require.NoError(t, err)
		assert.Empty(t, inj, "turn %d should not remind", i+1)
	}

	inj, err := m.OnUserTurn(ctx, "and then we had dinner")
	require.NoError(t, err)
	require.Len(t, inj, 1)
	assert.Equal(t, KindReminder, inj[0].Kind)
	assert.False(t, inj[0].RequiresAck)
	assert.Contains(t, inj[0].Text, "still in force")
}

func TestReminderSkipsLowPriorityRules(t *testing.T) {
	fs := &fakeRuleStore{
		active: []store.Rule{
			{Type: TypeSpeechPace, Priority: 40, Value: "A weak suggestion."},
		},
	}
	m := NewManager(fs, "student-1", 1)

	inj, err := m.OnUserTurn(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Empty(t, inj)
}

func TestReminderDeduplicatesByType(t *testing.T) {
	fs := &fakeRuleStore{
		active: []store.Rule{
			{Type: TypeSpeechPace, Priority: 100, Value: "Newest pace rule."},
			{Type: TypeSpeechPace, Priority: 90, Value: "Older pace rule."},
		},
	}
	m := NewManager(fs, "student-1", 1)

	inj, err := m.OnUserTurn(context.Background(), "hello there")
	require.NoError(t, err)
	require.Len(t, inj, 1)
	assert.Contains(t, inj[0].Text, "Newest pace rule.")
}
