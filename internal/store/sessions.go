package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateLessonSession inserts a new session row with status active.
func (s *Store) CreateLessonSession(ctx context.Context, ls *LessonSession) error {
	if ls.ID == "" {
		ls.ID = uuid.NewString()
	}
	ls.Status = SessionActive
	ls.StartedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_sessions (id, student_id, lesson_id, status, language_mode, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ls.ID, ls.StudentID, ls.LessonID, ls.Status, ls.LanguageMode, ls.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create lesson session: %w", err)
	}
	return nil
}

// GetLessonSession loads one session by id.
func (s *Store) GetLessonSession(ctx context.Context, id string) (*LessonSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, student_id, lesson_id, status, language_mode, started_at, ended_at
		 FROM lesson_sessions WHERE id = $1`, id)

	var ls LessonSession
	err := row.Scan(&ls.ID, &ls.StudentID, &ls.LessonID, &ls.Status, &ls.LanguageMode, &ls.StartedAt, &ls.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson session: %w", err)
	}
	return &ls, nil
}

// SetSessionStatus updates a session's status; ended sessions also get ended_at.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	var err error
	if status == SessionEnded {
		_, err = s.db.ExecContext(ctx,
			`UPDATE lesson_sessions SET status = $1, ended_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE lesson_sessions SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

// CreatePauseEvent opens a pause interval for a session. The partial unique
// index rejects a second open pause on the same session.
func (s *Store) CreatePauseEvent(ctx context.Context, pe *PauseEvent) error {
	if pe.ID == "" {
		pe.ID = uuid.NewString()
	}
	pe.PausedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pause_events (id, lesson_session_id, paused_at, summary_text, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		pe.ID, pe.LessonSessionID, pe.PausedAt, pe.Summary, pe.Reason,
	)
	if err != nil {
		return fmt.Errorf("create pause event: %w", err)
	}
	return nil
}

// OpenPauseEvent returns the session's open pause (resumed_at IS NULL), or ErrNotFound.
func (s *Store) OpenPauseEvent(ctx context.Context, sessionID string) (*PauseEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, lesson_session_id, paused_at, resumed_at, summary_text, reason
		 FROM pause_events WHERE lesson_session_id = $1 AND resumed_at IS NULL`, sessionID)

	var pe PauseEvent
	err := row.Scan(&pe.ID, &pe.LessonSessionID, &pe.PausedAt, &pe.ResumedAt, &pe.Summary, &pe.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open pause event: %w", err)
	}
	return &pe, nil
}

// ClosePauseEvent sets resumed_at on the session's open pause.
func (s *Store) ClosePauseEvent(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pause_events SET resumed_at = $1 WHERE lesson_session_id = $2 AND resumed_at IS NULL`,
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("close pause event: %w", err)
	}
	return nil
}
