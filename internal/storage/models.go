package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CreativityProfile is the terminal result of the assessment flow. Its
// existence, not the progress flag, marks the assessment as complete.
type CreativityProfile struct {
	UserID          string             `json:"user_id"`
	Variant         string             `json:"variant"`
	Archetype       string             `json:"archetype"`
	ArchetypeScores map[string]float64 `json:"archetype_scores"`
	ExperienceLevel string             `json:"experience_level"`
	TestResponses   map[string]string  `json:"test_responses"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ProjectOverview is the terminal result of the planning flow.
type ProjectOverview struct {
	UserID         string            `json:"user_id"`
	ProjectName    string            `json:"project_name"`
	ProjectType    string            `json:"project_type"`
	Description    string            `json:"description"`
	Goals          string            `json:"goals"`
	Challenges     string            `json:"challenges"`
	SuccessMetrics string            `json:"success_metrics"`
	Timeline       string            `json:"timeline"`
	WorkingStyle   string            `json:"working_style"`
	TopicResponses map[string]string `json:"topic_responses"`
	Summary        string            `json:"summary,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Message is one conversation turn.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Stage     string    `json:"stage,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
