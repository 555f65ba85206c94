// Package lesson assigns lesson numbers and handles first-lesson onboarding.
package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fluentvoice/lesson-gateway/internal/store"
)

// Store is the persistence surface the registrar needs.
type Store interface {
	EnsureStudent(ctx context.Context, id string) error
	LatestLesson(ctx context.Context, studentID string) (*store.Lesson, error)
	CompletedLessonCount(ctx context.Context, studentID string) (int, error)
	CreateLesson(ctx context.Context, l *store.Lesson) error
	SaveStudentProfile(ctx context.Context, id, name, preferredName, level, goals string) error
}

// Registrar assigns a monotonic lesson number per student and detects
// first-lesson (onboarding) mode.
type Registrar struct {
	store Store
}

// NewRegistrar creates a registrar over the given store.
func NewRegistrar(s Store) *Registrar {
	return &Registrar{store: s}
}

// GetOrCreateLesson returns the student's current open lesson, or creates the
// next one. A brand-new student gets Lesson #1 flagged as the onboarding
// lesson; otherwise the number is the completed-lesson count plus one.
func (r *Registrar) GetOrCreateLesson(ctx context.Context, studentID string) (*store.Lesson, error) {
	if err := r.store.EnsureStudent(ctx, studentID); err != nil {
		return nil, err
	}

	latest, err := r.store.LatestLesson(ctx, studentID)
	switch {
	case err == nil:
		if latest.CompletedAt == nil {
			return latest, nil
		}
	case errors.Is(err, store.ErrNotFound):
		// first contact
	default:
		return nil, fmt.Errorf("latest lesson: %w", err)
	}

	completed, err := r.store.CompletedLessonCount(ctx, studentID)
	if err != nil {
		return nil, err
	}

	l := &store.Lesson{
		StudentID:     studentID,
		LessonNumber:  completed + 1,
		IsFirstLesson: latest == nil,
	}
	if err = r.store.CreateLesson(ctx, l); err != nil {
		return nil, err
	}
	slog.Info("lesson created", "student_id", studentID, "lesson_number", l.LessonNumber, "onboarding", l.IsFirstLesson)
	return l, nil
}

// ProfileToolName is the structured tool the assistant invokes silently
// during onboarding. Profile data never travels through speakable text.
const ProfileToolName = "save_student_profile"

// ProfileToolSchema is the JSON schema for the onboarding profile tool,
// declared to the provider at configure time during a first lesson.
const ProfileToolSchema = `{
  "name": "save_student_profile",
  "description": "Silently store the student's profile once collected in conversation. Never read these values aloud or spell them out.",
  "parameters": {
    "type": "object",
    "properties": {
      "name": {"type": "string"},
      "preferred_name": {"type": "string", "description": "How the student wants to be addressed"},
      "self_rated_level": {"type": "string", "description": "Student's own estimate: beginner, intermediate or advanced"},
      "goals": {"type": "string", "description": "Why the student is learning"}
    },
    "required": ["name"]
  }
}`

// Profile is the decoded payload of a profile tool call.
type Profile struct {
	Name           string `json:"name"`
	PreferredName  string `json:"preferred_name"`
	SelfRatedLevel string `json:"self_rated_level"`
	Goals          string `json:"goals"`
}

// SaveProfile decodes and persists one profile tool invocation.
func (r *Registrar) SaveProfile(ctx context.Context, studentID string, raw []byte) error {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode profile call: %w", err)
	}
	if p.Name == "" {
		return fmt.Errorf("profile call missing name")
	}
	if err := r.store.SaveStudentProfile(ctx, studentID, p.Name, p.PreferredName, p.SelfRatedLevel, p.Goals); err != nil {
		return err
	}
	slog.Info("student profile saved", "student_id", studentID)
	return nil
}
