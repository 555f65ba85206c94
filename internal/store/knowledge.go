package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertKnowledgeEvent appends a learning signal. The (turn, type, dedup key)
// unique constraint makes replays no-ops; the return value reports whether
// the row was actually inserted so callers can skip the snapshot update.
func (s *Store) InsertKnowledgeEvent(ctx context.Context, ev *KnowledgeEvent, dedupKey string) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_events (id, lesson_id, turn_id, event_type, dedup_key, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (turn_id, event_type, dedup_key) DO NOTHING`,
		ev.ID, ev.LessonID, ev.TurnID, ev.EventType, dedupKey, ev.Payload, ev.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert knowledge event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert knowledge event rows: %w", err)
	}
	return n > 0, nil
}

// KnowledgeEvents lists a student's events newest first, for operator pull queries.
func (s *Store) KnowledgeEvents(ctx context.Context, studentID string, limit int) ([]KnowledgeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.lesson_id, e.turn_id, e.event_type, e.payload, e.created_at
		 FROM knowledge_events e
		 JOIN lessons l ON l.id = e.lesson_id
		 WHERE l.student_id = $1
		 ORDER BY e.created_at DESC LIMIT $2`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list knowledge events: %w", err)
	}
	defer rows.Close()

	var events []KnowledgeEvent
	for rows.Next() {
		var ev KnowledgeEvent
		if err = rows.Scan(&ev.ID, &ev.LessonID, &ev.TurnID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetStudentKnowledge loads a student's snapshot, returning an empty snapshot
// when none has been written yet.
func (s *Store) GetStudentKnowledge(ctx context.Context, studentID string) (*StudentKnowledge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT student_id, level, lesson_count, vocabulary, grammar, updated_at
		 FROM student_knowledge WHERE student_id = $1`, studentID)

	var sk StudentKnowledge
	var vocabJSON, grammarJSON []byte
	err := row.Scan(&sk.StudentID, &sk.Level, &sk.LessonCount, &vocabJSON, &grammarJSON, &sk.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &StudentKnowledge{
			StudentID:  studentID,
			Vocabulary: map[string]VocabEntry{},
			Grammar:    map[string]GrammarStat{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student knowledge: %w", err)
	}
	if err = json.Unmarshal(vocabJSON, &sk.Vocabulary); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	if err = json.Unmarshal(grammarJSON, &sk.Grammar); err != nil {
		return nil, fmt.Errorf("decode grammar: %w", err)
	}
	return &sk, nil
}

// SaveStudentKnowledge upserts the snapshot. Only the analysis pipeline calls this.
func (s *Store) SaveStudentKnowledge(ctx context.Context, sk *StudentKnowledge) error {
	vocabJSON, err := json.Marshal(sk.Vocabulary)
	if err != nil {
		return fmt.Errorf("encode vocabulary: %w", err)
	}
	grammarJSON, err := json.Marshal(sk.Grammar)
	if err != nil {
		return fmt.Errorf("encode grammar: %w", err)
	}
	sk.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO student_knowledge (student_id, level, lesson_count, vocabulary, grammar, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (student_id) DO UPDATE
		 SET level = EXCLUDED.level, lesson_count = EXCLUDED.lesson_count,
		     vocabulary = EXCLUDED.vocabulary, grammar = EXCLUDED.grammar,
		     updated_at = EXCLUDED.updated_at`,
		sk.StudentID, sk.Level, sk.LessonCount, vocabJSON, grammarJSON, sk.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save student knowledge: %w", err)
	}
	return nil
}
