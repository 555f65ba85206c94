// Package rules detects implicit behavioral directives in student speech and
// keeps them alive in a provider that cannot update its base configuration.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fluentvoice/lesson-gateway/internal/metrics"
	"github.com/fluentvoice/lesson-gateway/internal/store"
)

// DefaultReminderInterval is the user-turn cadence for rule reminders.
// Turn-count-based rather than time-based: context dilution grows with
// conversation length, not wall time.
const DefaultReminderInterval = 8

// directivePriority is assigned to rules created from in-conversation directives.
const directivePriority = 100

// highPriorityFloor is the minimum priority re-injected on the reminder cadence.
const highPriorityFloor = 80

// Store is the persistence surface the manager needs.
type Store interface {
	UpsertRule(ctx context.Context, r *store.Rule) error
	ActiveRules(ctx context.Context, studentID string) ([]store.Rule, error)
}

// InjectionKind distinguishes a fresh directive from a cadence reminder.
type InjectionKind string

const (
	KindDirective InjectionKind = "directive"
	KindReminder  InjectionKind = "reminder"
)

// Injection is one instruction payload ready for delivery into the live
// conversation, strictly ordered after configuration acknowledgment and
// before audio relay resumes.
type Injection struct {
	RuleType    string
	Kind        InjectionKind
	Text        string
	RequiresAck bool
}

// Manager watches one session's user turns for a student.
type Manager struct {
	store            Store
	studentID        string
	reminderInterval int

	mu        sync.Mutex
	userTurns int
}

// NewManager creates a rule manager for one session.
func NewManager(s Store, studentID string, reminderInterval int) *Manager {
	if reminderInterval <= 0 {
		reminderInterval = DefaultReminderInterval
	}
	return &Manager{store: s, studentID: studentID, reminderInterval: reminderInterval}
}

// OnUserTurn inspects one user utterance. A matched directive persists a rule
// and yields an injection demanding a spoken acknowledgment: without forcing
// the acknowledgment, directives fade from the conversation within a handful
// of turns because the provider has no memory beyond its visible context.
// Every reminderInterval user turns, still-active high-priority rules are
// re-injected as lightweight reminders with no acknowledgment demand.
func (m *Manager) OnUserTurn(ctx context.Context, text string) ([]Injection, error) {
	m.mu.Lock()
	m.userTurns++
	reminderDue := m.userTurns%m.reminderInterval == 0
	m.mu.Unlock()

	var injections []Injection

	for category, value := range matchDirectives(text) {
		r := &store.Rule{
			Scope:     store.ScopeStudent,
			StudentID: m.studentID,
			Type:      category,
			Priority:  directivePriority,
			Value:     value,
			IsActive:  true,
			CreatedBy: "directive_detector",
		}
		if err := m.store.UpsertRule(ctx, r); err != nil {
			return nil, fmt.Errorf("persist directive rule: %w", err)
		}
		slog.Info("directive detected", "student_id", m.studentID, "type", category)
		metrics.RuleInjections.WithLabelValues(category, string(KindDirective)).Inc()
		injections = append(injections, Injection{
			RuleType:    category,
			Kind:        KindDirective,
			Text:        directiveInjection(value),
			RequiresAck: true,
		})
	}

	if reminderDue {
		reminders, err := m.reminders(ctx)
		if err != nil {
			return injections, err
		}
		injections = append(injections, reminders...)
	}

	return injections, nil
}

func (m *Manager) reminders(ctx context.Context) ([]Injection, error) {
	active, err := m.store.ActiveRules(ctx, m.studentID)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	var out []Injection
	seen := make(map[string]bool)
	for _, r := range active {
		if r.Priority < highPriorityFloor || seen[r.Type] {
			continue
		}
		seen[r.Type] = true
		metrics.RuleInjections.WithLabelValues(r.Type, string(KindReminder)).Inc()
		out = append(out, Injection{
			RuleType: r.Type,
			Kind:     KindReminder,
			Text:     reminderInjection(r.Value),
		})
	}
	return out, nil
}

func directiveInjection(value string) string {
	return "Directive from the student, effective immediately: " + value +
		" You must briefly confirm this change aloud to the student before continuing the lesson."
}

func reminderInjection(value string) string {
	return "Reminder of a standing rule, still in force: " + value
}
