package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertRule creates a rule, or refreshes an existing rule of the same
// scope/student/session/type. The refreshed row gets a new created_at so the
// most recent directive wins ties on priority.
func (s *Store) UpsertRule(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, scope, student_id, session_id, type, priority, value, is_active, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (scope, student_id, session_id, type) DO UPDATE
		 SET priority = EXCLUDED.priority, value = EXCLUDED.value,
		     is_active = EXCLUDED.is_active, created_at = EXCLUDED.created_at`,
		r.ID, r.Scope, r.StudentID, r.SessionID, r.Type, r.Priority, r.Value, r.IsActive, r.CreatedBy, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// ActiveRules returns every active rule applying to a student: the student's
// own rules plus global ones, highest priority first, newest first on ties.
func (s *Store) ActiveRules(ctx context.Context, studentID string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, student_id, session_id, type, priority, value, is_active, created_by, created_at
		 FROM rules
		 WHERE is_active AND (scope = 'global' OR (scope = 'student' AND student_id = $1))
		 ORDER BY priority DESC, created_at DESC`, studentID)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err = rows.Scan(&r.ID, &r.Scope, &r.StudentID, &r.SessionID, &r.Type, &r.Priority, &r.Value, &r.IsActive, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// EffectiveRule returns the winning active rule of one type for a student:
// highest priority, then most recently created.
func (s *Store) EffectiveRule(ctx context.Context, studentID, ruleType string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, student_id, session_id, type, priority, value, is_active, created_by, created_at
		 FROM rules
		 WHERE is_active AND type = $2 AND (scope = 'global' OR (scope = 'student' AND student_id = $1))
		 ORDER BY priority DESC, created_at DESC LIMIT 1`, studentID, ruleType)

	var r Rule
	err := row.Scan(&r.ID, &r.Scope, &r.StudentID, &r.SessionID, &r.Type, &r.Priority, &r.Value, &r.IsActive, &r.CreatedBy, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("effective rule: %w", err)
	}
	return &r, nil
}
