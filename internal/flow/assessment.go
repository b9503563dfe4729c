package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/scoring"
	"github.com/fridaysatfour/wingman/internal/storage"
)

// AssessmentResult is the outcome of one assessment turn.
type AssessmentResult struct {
	Message         string
	FlowComplete    bool
	Archetype       scoring.Archetype
	ExperienceLevel string
	Progress        Progress
}

// AssessmentHandler walks a user through the fixed question bank.
//
// The stored current_step is the number of the next question to present:
// after question k is shown it is k+1, so the incoming reply answers
// question current_step-1. Valid stored values are 1..N+1.
type AssessmentHandler struct {
	store  Store
	bank   *scoring.Bank
	clock  Clock
	logger *slog.Logger
}

// NewAssessmentHandler creates a handler for bank. A nil clock uses wall time.
func NewAssessmentHandler(store Store, bank *scoring.Bank, clock Clock) *AssessmentHandler {
	if clock == nil {
		clock = realClock{}
	}
	return &AssessmentHandler{store: store, bank: bank, clock: clock, logger: slog.Default().With("component", "assessment")}
}

// Bank returns the question bank in use.
func (h *AssessmentHandler) Bank() *scoring.Bank { return h.bank }

func (h *AssessmentHandler) record(userID string, snap progress.Snapshot) progress.Record {
	if snap.Progress != nil {
		rec := *snap.Progress
		rec.Responses = rec.Responses.Clone()
		if rec.TotalSteps == 0 {
			rec.TotalSteps = h.bank.Total()
		}
		return rec
	}
	return progress.New(userID, progress.FamilyAssessment, h.bank.Total())
}

// Open presents the question the user is due to answer without consuming
// any input. A user who has not started gets question 1 and the record is
// advanced past it.
func (h *AssessmentHandler) Open(ctx context.Context, userID string, snap progress.Snapshot) (AssessmentResult, error) {
	rec := h.record(userID, snap)
	if rec.CurrentStep > 1 {
		n := rec.CurrentStep - 1
		if q, ok := h.bank.Question(n); ok {
			return AssessmentResult{Message: h.format(q), Progress: h.indicator(rec, n)}, nil
		}
	}
	return h.present(ctx, rec, 1)
}

// Handle consumes one reply. Failed extraction re-prompts without writing.
func (h *AssessmentHandler) Handle(ctx context.Context, userID, message string, snap progress.Snapshot) (AssessmentResult, error) {
	rec := h.record(userID, snap)
	total := h.bank.Total()

	if rec.CurrentStep < 1 || rec.CurrentStep > total+1 {
		h.logger.Warn("malformed assessment progress", "user_id", userID, "current_step", rec.CurrentStep, "total", total)
		return AssessmentResult{Message: continueMessage, Progress: h.indicator(rec, rec.CurrentStep)}, nil
	}

	if len(rec.Responses) >= total {
		return h.complete(ctx, rec)
	}

	if rec.CurrentStep == 1 {
		return h.present(ctx, rec, 1)
	}

	answering := rec.CurrentStep - 1
	q, _ := h.bank.Question(answering)
	letter, ok := ExtractLetter(message, q.Letters())
	if !ok {
		return AssessmentResult{
			Message:  fmt.Sprintf("Please choose %s for question %d.\n\n%s", orList(q.Letters()), answering, h.format(q)),
			Progress: h.indicator(rec, answering),
		}, nil
	}

	rec.Put(progress.QuestionKey(answering), progress.LetterAnswer{Letter: letter, AnsweredAt: h.clock.Now()})
	if len(rec.Responses) >= total {
		return h.complete(ctx, rec)
	}

	next := answering + 1
	for next <= total {
		if _, answered := rec.Responses[progress.QuestionKey(next)]; !answered {
			break
		}
		next++
	}
	return h.present(ctx, rec, next)
}

// present shows question n and stores the record advanced past it, together
// with whatever answer was just recorded on rec.
func (h *AssessmentHandler) present(ctx context.Context, rec progress.Record, n int) (AssessmentResult, error) {
	q, ok := h.bank.Question(n)
	if !ok {
		return AssessmentResult{}, fmt.Errorf("question %d out of range", n)
	}
	rec.CurrentStep = n + 1
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		return AssessmentResult{}, fmt.Errorf("saving assessment progress: %w", err)
	}
	return AssessmentResult{Message: h.format(q), Progress: h.indicator(rec, n)}, nil
}

func (h *AssessmentHandler) complete(ctx context.Context, rec progress.Record) (AssessmentResult, error) {
	result := h.bank.Assess(rec.Responses.Letters())

	scores := make(map[string]float64, len(result.ArchetypeScores))
	for a, v := range result.ArchetypeScores {
		scores[string(a)] = v
	}
	err := h.store.SaveCreativityProfile(ctx, storage.CreativityProfile{
		UserID:          rec.UserID,
		Variant:         h.bank.Variant,
		Archetype:       string(result.AssignedArchetype),
		ArchetypeScores: scores,
		ExperienceLevel: result.ExperienceLevel,
		TestResponses:   result.TestResponses,
	})
	if err != nil {
		return AssessmentResult{}, fmt.Errorf("saving assessment result: %w", err)
	}

	rec.IsCompleted = true
	rec.CurrentStep = h.bank.Total() + 1
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		// The result record is authoritative; a stale progress flag is harmless.
		h.logger.Warn("marking assessment progress complete failed", "user_id", rec.UserID, "error", err)
	}

	h.logger.Info("assessment complete", "user_id", rec.UserID, "archetype", result.AssignedArchetype)
	return AssessmentResult{
		Message: fmt.Sprintf("That's all %d questions! Your archetype is the %s, at the %s level.",
			h.bank.Total(), result.AssignedArchetype, result.ExperienceLevel),
		FlowComplete:    true,
		Archetype:       result.AssignedArchetype,
		ExperienceLevel: result.ExperienceLevel,
		Progress: Progress{
			CurrentStep:          h.bank.Total(),
			TotalSteps:           h.bank.Total(),
			CompletionPercentage: 100,
		},
	}, nil
}

func (h *AssessmentHandler) indicator(rec progress.Record, step int) Progress {
	return Progress{
		CurrentStep:          step,
		TotalSteps:           h.bank.Total(),
		CompletionPercentage: progress.CompletionPercentage(len(rec.Responses), h.bank.Total()),
	}
}

func (h *AssessmentHandler) format(q scoring.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d of %d\n\n%s\n", q.Number, h.bank.Total(), q.Text)
	for _, o := range q.Options {
		fmt.Fprintf(&b, "\n%s) %s", o.Letter, o.Text)
	}
	return b.String()
}

// orList renders ["A","B","C"] as "A, B, or C".
func orList(letters []string) string {
	switch len(letters) {
	case 0:
		return ""
	case 1:
		return letters[0]
	case 2:
		return letters[0] + " or " + letters[1]
	}
	return strings.Join(letters[:len(letters)-1], ", ") + ", or " + letters[len(letters)-1]
}
