// Package summary turns completed project overviews into a short prose
// summary in the background, off the message path.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/storage"
)

// JobType is the job queue type handled by Worker.
const JobType = "overview_summarize"

// JobStore abstracts the job queue and the overview record.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetProjectOverview(ctx context.Context, userID string) (storage.ProjectOverview, error)
	UpdateOverviewSummary(ctx context.Context, userID, summary string) error
}

// Generator produces the summary text.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

type payload struct {
	UserID string `json:"user_id"`
}

// NewJob builds the queue entry that asks for userID's overview to be summarized.
func NewJob(userID string) (storage.Job, error) {
	data, err := json.Marshal(payload{UserID: userID})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(data),
	}, nil
}

// Worker processes overview_summarize jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	gen    Generator
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, gen Generator, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		gen:    gen,
		poll:   pollInterval,
		logger: slog.Default().With("component", "summary"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// processed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

const systemPrompt = `You write a three-sentence summary of a creative project for an accountability coach.
Plain prose, second person, no lists, no headings.`

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.UserID == "" {
		return fmt.Errorf("payload has no user_id")
	}

	overview, err := w.store.GetProjectOverview(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("loading project overview for %s: %w", p.UserID, err)
	}

	text, err := w.gen.Generate(ctx, llm.Request{
		System:   systemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: describe(overview)}},
	})
	if err != nil {
		return fmt.Errorf("generating summary: %w", err)
	}

	if err := w.store.UpdateOverviewSummary(ctx, p.UserID, strings.TrimSpace(text)); err != nil {
		return fmt.Errorf("storing summary: %w", err)
	}
	w.logger.Info("overview summarized", "user_id", p.UserID)
	return nil
}

func describe(o storage.ProjectOverview) string {
	var b strings.Builder
	for _, f := range []struct{ label, value string }{
		{"Project", o.ProjectName},
		{"Type", o.ProjectType},
		{"Description", o.Description},
		{"Goals", o.Goals},
		{"Challenges", o.Challenges},
		{"Success looks like", o.SuccessMetrics},
		{"Timeline", o.Timeline},
		{"Working style", o.WorkingStyle},
	} {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
	}
	return b.String()
}
