package flow

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/storage"
	"github.com/fridaysatfour/wingman/internal/summary"
)

//go:embed planning_topics.yaml
var planningTopicsYAML []byte

// Topic is one planning question.
type Topic struct {
	Field  string `yaml:"field"`
	Prompt string `yaml:"prompt"`
}

// LoadTopics parses the embedded planning topics.
func LoadTopics() ([]Topic, error) {
	var topics []Topic
	if err := yaml.Unmarshal(planningTopicsYAML, &topics); err != nil {
		return nil, fmt.Errorf("parsing planning topics: %w", err)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no planning topics")
	}
	return topics, nil
}

// PlanningResult is the outcome of one planning turn.
type PlanningResult struct {
	Message      string
	FlowComplete bool
	Progress     Progress
}

// PlanningHandler collects free-text answers about the user's project, one
// topic per turn. current_step works as in AssessmentHandler.
type PlanningHandler struct {
	store  Store
	gen    Generator
	clock  Clock
	topics []Topic
	logger *slog.Logger
}

// NewPlanningHandler creates a handler over topics. A nil clock uses wall time.
func NewPlanningHandler(store Store, gen Generator, clock Clock, topics []Topic) *PlanningHandler {
	if clock == nil {
		clock = realClock{}
	}
	return &PlanningHandler{store: store, gen: gen, clock: clock, topics: topics, logger: slog.Default().With("component", "planning")}
}

// Total is the number of topics.
func (h *PlanningHandler) Total() int { return len(h.topics) }

func (h *PlanningHandler) record(userID string, snap *progress.Snapshot) progress.Record {
	if snap != nil && snap.Progress != nil {
		rec := *snap.Progress
		rec.Responses = rec.Responses.Clone()
		if rec.TotalSteps == 0 {
			rec.TotalSteps = h.Total()
		}
		return rec
	}
	return progress.New(userID, progress.FamilyPlanning, h.Total())
}

// Open presents the topic the user is due to answer. A user who has not
// started gets topic 1 and the record is advanced past it.
func (h *PlanningHandler) Open(ctx context.Context, userID string, snap *progress.Snapshot) (PlanningResult, error) {
	rec := h.record(userID, snap)
	if n := rec.CurrentStep - 1; n >= 1 && n <= h.Total() {
		return PlanningResult{Message: h.topics[n-1].Prompt, Progress: h.indicator(rec, n)}, nil
	}
	rec.CurrentStep = 2
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		return PlanningResult{}, fmt.Errorf("saving planning progress: %w", err)
	}
	intro := "Now let's map out your project. I'll ask a few questions, one at a time.\n\n"
	return PlanningResult{Message: intro + h.topics[0].Prompt, Progress: h.indicator(rec, 1)}, nil
}

// Handle records the reply as the answer to the current topic, stores it,
// and only then asks the LLM to phrase the next question.
func (h *PlanningHandler) Handle(ctx context.Context, userID, message string, snap *progress.Snapshot, history []storage.Message) (PlanningResult, error) {
	rec := h.record(userID, snap)
	total := h.Total()

	if rec.CurrentStep < 1 || rec.CurrentStep > total+1 {
		h.logger.Warn("malformed planning progress", "user_id", userID, "current_step", rec.CurrentStep, "total", total)
		return PlanningResult{Message: continueMessage}, nil
	}
	if len(rec.Responses) >= total {
		return h.complete(ctx, rec)
	}
	if rec.CurrentStep == 1 {
		return h.Open(ctx, userID, snap)
	}

	answering := rec.CurrentStep - 1
	text := strings.TrimSpace(message)
	if text == "" {
		return PlanningResult{Message: h.topics[answering-1].Prompt, Progress: h.indicator(rec, answering)}, nil
	}

	rec.Put(progress.TopicKey(answering), progress.FreeTextAnswer{Text: text, AnsweredAt: h.clock.Now()})
	if len(rec.Responses) >= total {
		return h.complete(ctx, rec)
	}

	next := answering + 1
	rec.CurrentStep = next + 1
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		return PlanningResult{}, fmt.Errorf("saving planning progress: %w", err)
	}

	topic := h.topics[next-1]
	reply, err := h.gen.Generate(ctx, llm.Request{
		System: fmt.Sprintf(`You are an accountability wingman helping a creative person plan their project.
Briefly acknowledge their last answer in one sentence, then ask this next question in your own words:
%q`, topic.Prompt),
		Messages: append(toLLM(history), llm.Message{Role: llm.RoleUser, Content: text}),
	})
	if err != nil {
		h.logger.Warn("planning reply fell back to static text", "user_id", userID, "error", err)
		reply = "Got it. " + topic.Prompt
	}
	return PlanningResult{Message: reply, Progress: h.indicator(rec, next)}, nil
}

func (h *PlanningHandler) complete(ctx context.Context, rec progress.Record) (PlanningResult, error) {
	overview := storage.ProjectOverview{UserID: rec.UserID, TopicResponses: make(map[string]string, len(rec.Responses))}
	fields := map[string]*string{
		"project_name":    &overview.ProjectName,
		"project_type":    &overview.ProjectType,
		"description":     &overview.Description,
		"goals":           &overview.Goals,
		"challenges":      &overview.Challenges,
		"success_metrics": &overview.SuccessMetrics,
		"timeline":        &overview.Timeline,
		"working_style":   &overview.WorkingStyle,
	}
	for i, t := range h.topics {
		a, ok := rec.Responses[progress.TopicKey(i+1)]
		if !ok {
			continue
		}
		overview.TopicResponses[string(progress.TopicKey(i+1))] = a.Value()
		if dst, ok := fields[t.Field]; ok {
			*dst = a.Value()
		}
	}
	if err := h.store.SaveProjectOverview(ctx, overview); err != nil {
		return PlanningResult{}, fmt.Errorf("saving project overview: %w", err)
	}

	rec.IsCompleted = true
	rec.CurrentStep = h.Total() + 1
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		h.logger.Warn("marking planning progress complete failed", "user_id", rec.UserID, "error", err)
	}

	if job, err := summary.NewJob(rec.UserID); err != nil {
		h.logger.Warn("building summary job failed", "user_id", rec.UserID, "error", err)
	} else if err := h.store.EnqueueJob(ctx, job); err != nil {
		h.logger.Warn("enqueueing summary job failed", "user_id", rec.UserID, "error", err)
	}

	h.logger.Info("planning complete", "user_id", rec.UserID)
	name := overview.ProjectName
	if name == "" {
		name = "your project"
	}
	return PlanningResult{
		Message:      fmt.Sprintf("Thanks! I've got a clear picture of %s now.", name),
		FlowComplete: true,
		Progress:     Progress{CurrentStep: h.Total(), TotalSteps: h.Total(), CompletionPercentage: 100},
	}, nil
}

func (h *PlanningHandler) indicator(rec progress.Record, step int) Progress {
	return Progress{
		CurrentStep:          step,
		TotalSteps:           h.Total(),
		CompletionPercentage: progress.CompletionPercentage(len(rec.Responses), h.Total()),
	}
}
