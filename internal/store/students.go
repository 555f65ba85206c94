package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// EnsureStudent inserts a student row if one does not already exist.
func (s *Store) EnsureStudent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO students (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensure student: %w", err)
	}
	return nil
}

// GetStudent loads one student.
func (s *Store) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, preferred_name, self_rated_level, goals, created_at
		 FROM students WHERE id = $1`, id)

	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.PreferredName, &st.SelfRatedLevel, &st.Goals, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &st, nil
}

// SaveStudentProfile stores onboarding profile fields collected via the
// structured profile tool.
func (s *Store) SaveStudentProfile(ctx context.Context, id, name, preferredName, level, goals string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE students SET name = $2, preferred_name = $3, self_rated_level = $4, goals = $5 WHERE id = $1`,
		id, name, preferredName, level, goals,
	)
	if err != nil {
		return fmt.Errorf("save student profile: %w", err)
	}
	return nil
}
