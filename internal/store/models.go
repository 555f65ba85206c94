package store

import "time"

// SessionStatus is the lifecycle state of a LessonSession.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionEnded  SessionStatus = "ended"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// PipelineType records which provider bridge produced a turn.
type PipelineType string

const (
	PipelineStreaming PipelineType = "streaming"
	PipelineLegacy    PipelineType = "legacy"
)

// RuleScope controls which conversations a rule applies to.
type RuleScope string

const (
	ScopeGlobal  RuleScope = "global"
	ScopeStudent RuleScope = "student"
	ScopeSession RuleScope = "session"
)

// Student is a registered learner.
type Student struct {
	ID             string
	Name           string
	PreferredName  string
	SelfRatedLevel string
	Goals          string
	CreatedAt      time.Time
}

// Lesson is a logical, numbered unit of instruction. A lesson may span
// several physical sessions (pause/resume, reconnects).
type Lesson struct {
	ID             string
	StudentID      string
	LessonNumber   int
	IsFirstLesson  bool
	PlacementLevel string
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// LessonSession is one physical realtime connection bound to a lesson.
type LessonSession struct {
	ID           string
	StudentID    string
	LessonID     string
	Status       SessionStatus
	LanguageMode string
	StartedAt    time.Time
	EndedAt      *time.Time
}

// PauseEvent is one pause interval within a session. ResumedAt is nil while
// the pause is open; at most one open pause exists per session.
type PauseEvent struct {
	ID              string
	LessonSessionID string
	PausedAt        time.Time
	ResumedAt       *time.Time
	Summary         string
	Reason          string
}

// Turn is one persisted utterance. TurnIndex is monotonic and gap-free
// within a lesson.
type Turn struct {
	ID           string
	LessonID     string
	TurnIndex    int
	PipelineType PipelineType
	Speaker      Speaker
	Text         string
	RawPayload   []byte
	CreatedAt    time.Time
}

// KnowledgeEvent is one immutable learning signal derived from a turn.
type KnowledgeEvent struct {
	ID        string
	LessonID  string
	TurnID    string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// VocabEntry tracks one vocabulary item in a student's snapshot.
type VocabEntry struct {
	Strength  string    `json:"strength"` // weak, strong, neutral
	Frequency int       `json:"frequency"`
	LastSeen  time.Time `json:"last_seen"`
}

// GrammarStat tracks attempts and mistakes for one grammar pattern.
// Mastery is recomputed as 1 - mistakes/attempts, clamped to [0,1].
type GrammarStat struct {
	Attempts int     `json:"attempts"`
	Mistakes int     `json:"mistakes"`
	Mastery  float64 `json:"mastery"`
}

// StudentKnowledge is the current mutable snapshot for one student.
// Only the analysis pipeline writes it.
type StudentKnowledge struct {
	StudentID   string
	Level       string
	LessonCount int
	Vocabulary  map[string]VocabEntry
	Grammar     map[string]GrammarStat
	UpdatedAt   time.Time
}

// Rule is a persisted behavioral directive injected into live conversations.
type Rule struct {
	ID        string
	Scope     RuleScope
	StudentID string // empty for global scope
	SessionID string // set for session scope only
	Type      string
	Priority  int // 0–100
	Value     string
	IsActive  bool
	CreatedBy string
	CreatedAt time.Time
}
