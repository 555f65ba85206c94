package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateLesson inserts a new lesson for a student.
func (s *Store) CreateLesson(ctx context.Context, l *Lesson) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (id, student_id, lesson_number, is_first_lesson, placement_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.StudentID, l.LessonNumber, l.IsFirstLesson, l.PlacementLevel, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// LatestLesson returns the newest lesson for a student, or ErrNotFound.
func (s *Store) LatestLesson(ctx context.Context, studentID string) (*Lesson, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, student_id, lesson_number, is_first_lesson, placement_level, completed_at, created_at
		 FROM lessons WHERE student_id = $1 ORDER BY lesson_number DESC LIMIT 1`, studentID)
	return scanLesson(row)
}

// GetLesson loads one lesson by id.
func (s *Store) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, student_id, lesson_number, is_first_lesson, placement_level, completed_at, created_at
		 FROM lessons WHERE id = $1`, id)
	return scanLesson(row)
}

// CompleteLesson marks a lesson finished.
func (s *Store) CompleteLesson(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lessons SET completed_at = $1 WHERE id = $2 AND completed_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete lesson: %w", err)
	}
	return nil
}

// CompletedLessonCount returns how many lessons a student has finished.
func (s *Store) CompletedLessonCount(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lessons WHERE student_id = $1 AND completed_at IS NOT NULL`,
		studentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("completed lesson count: %w", err)
	}
	return n, nil
}

func scanLesson(row *sql.Row) (*Lesson, error) {
	var l Lesson
	err := row.Scan(&l.ID, &l.StudentID, &l.LessonNumber, &l.IsFirstLesson, &l.PlacementLevel, &l.CompletedAt, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lesson: %w", err)
	}
	return &l, nil
}

// AppendTurn persists one utterance, allocating the next turn_index inside a
// transaction. The lesson row is locked so concurrent appends cannot produce
// gaps or duplicates.
func (s *Store) AppendTurn(ctx context.Context, t *Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append turn begin: %w", err)
	}
	defer tx.Rollback()

	var exists string
	if err = tx.QueryRowContext(ctx,
		`SELECT id FROM lessons WHERE id = $1 FOR UPDATE`, t.LessonID).Scan(&exists); err != nil {
		return fmt.Errorf("append turn lock lesson: %w", err)
	}

	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE lesson_id = $1`,
		t.LessonID).Scan(&t.TurnIndex); err != nil {
		return fmt.Errorf("append turn next index: %w", err)
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, lesson_id, turn_index, pipeline_type, speaker, text, raw_payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.LessonID, t.TurnIndex, t.PipelineType, t.Speaker, t.Text, t.RawPayload, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("append turn insert: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("append turn commit: %w", err)
	}
	return nil
}

// Turns lists a lesson's turns in index order.
func (s *Store) Turns(ctx context.Context, lessonID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lesson_id, turn_index, pipeline_type, speaker, text, raw_payload, created_at
		 FROM turns WHERE lesson_id = $1 ORDER BY turn_index`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err = rows.Scan(&t.ID, &t.LessonID, &t.TurnIndex, &t.PipelineType, &t.Speaker, &t.Text, &t.RawPayload, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SaveLessonRecap stores the natural-language recap composed at lesson end.
// It serves as the "last lesson" context bridge for the student's next lesson.
func (s *Store) SaveLessonRecap(ctx context.Context, lessonID, studentID, recap string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_recaps (lesson_id, student_id, recap, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (lesson_id) DO UPDATE SET recap = EXCLUDED.recap, created_at = EXCLUDED.created_at`,
		lessonID, studentID, recap, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save lesson recap: %w", err)
	}
	return nil
}

// LastLessonRecap returns the most recent recap for a student, or "" if none.
func (s *Store) LastLessonRecap(ctx context.Context, studentID string) (string, error) {
	var recap string
	err := s.db.QueryRowContext(ctx,
		`SELECT recap FROM lesson_recaps WHERE student_id = $1 ORDER BY created_at DESC LIMIT 1`,
		studentID).Scan(&recap)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last lesson recap: %w", err)
	}
	return recap, nil
}
