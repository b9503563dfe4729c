// Package flow decides which onboarding stage a user is in, records their
// answers and hands over between stages.
//
// Stages run in a fixed order: intro, assessment, planning, then main chat.
// Intro and assessment share one progress record (the assessment family);
// planning has its own.
package flow

import (
	"context"
	"time"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/storage"
)

// Stage is one phase of the onboarding conversation.
type Stage string

const (
	StageIntro      Stage = "intro"
	StageAssessment Stage = "assessment"
	StagePlanning   Stage = "planning"
	StageMainChat   Stage = "main_chat"
)

// Family returns the progress family that backs the stage.
func (s Stage) Family() (progress.Family, bool) {
	switch s {
	case StageIntro, StageAssessment:
		return progress.FamilyAssessment, true
	case StagePlanning:
		return progress.FamilyPlanning, true
	}
	return "", false
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ProgressStore is the keyed progress-record store.
type ProgressStore interface {
	GetFlowFamily(ctx context.Context, userID string, family progress.Family) (progress.Snapshot, error)
	UpsertProgress(ctx context.Context, rec progress.Record) error
	SetSkippedUntil(ctx context.Context, userID string, family progress.Family, until time.Time, totalSteps int) error
}

// ResultStore holds the terminal result records.
type ResultStore interface {
	SaveCreativityProfile(ctx context.Context, p storage.CreativityProfile) error
	GetCreativityProfile(ctx context.Context, userID string) (storage.CreativityProfile, error)
	SaveProjectOverview(ctx context.Context, o storage.ProjectOverview) error
	GetProjectOverview(ctx context.Context, userID string) (storage.ProjectOverview, error)
}

// ConversationStore keeps the per-thread message history.
type ConversationStore interface {
	AppendMessage(ctx context.Context, m storage.Message) error
	RecentMessages(ctx context.Context, userID, threadID string, limit int) ([]storage.Message, error)
	GetMessage(ctx context.Context, id string) (storage.Message, error)
}

// JobQueue accepts background work.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Store is everything the orchestrator persists. *storage.Store satisfies it.
type Store interface {
	ProgressStore
	ResultStore
	ConversationStore
	JobQueue
}

// Generator is the language-model collaborator. *llm.Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Progress is the indicator returned with each assessment or planning prompt.
type Progress struct {
	CurrentStep          int     `json:"current_step"`
	TotalSteps           int     `json:"total_steps"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// historyLimit is how many recent turns feed the free-text stages.
const historyLimit = 20

// continueMessage is the user-visible answer to any internal failure.
const continueMessage = "Let's continue. What was your answer?"

func toLLM(history []storage.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
