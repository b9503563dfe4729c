package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/scoring"
	"github.com/fridaysatfour/wingman/internal/storage"
)

// MessageRequest is one inbound user message. MessageID is an optional
// client idempotency key, scoped to the user: a re-delivered id gets the
// stored reply back. Without it a re-delivered letter answers the next
// question, so clients that retry must set it.
type MessageRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id,omitempty"`
}

// Reply is what the user sees, plus routing metadata.
type Reply struct {
	Response     string    `json:"response"`
	Stage        Stage     `json:"stage"`
	Transitioned bool      `json:"transitioned"`
	FlowComplete bool      `json:"flow_complete"`
	Progress     *Progress `json:"progress,omitempty"`
	Archetype    string    `json:"archetype,omitempty"`
	Replayed     bool      `json:"replayed,omitempty"`
}

// Config holds orchestrator dependencies.
type Config struct {
	Store     Store
	Generator Generator
	Bank      *scoring.Bank
	Topics    []Topic
	Clock     Clock
	// Cooldown is the skip window; zero uses DefaultCooldown.
	Cooldown time.Duration
}

// Orchestrator is the per-message entry point.
type Orchestrator struct {
	store      Store
	gen        Generator
	resolver   *Resolver
	skip       *Policy
	intro      *IntroHandler
	assessment *AssessmentHandler
	planning   *PlanningHandler
	logger     *slog.Logger
}

// New wires an Orchestrator.
func New(cfg Config) *Orchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	totals := map[progress.Family]int{
		progress.FamilyAssessment: cfg.Bank.Total(),
		progress.FamilyPlanning:   len(cfg.Topics),
	}
	return &Orchestrator{
		store:      cfg.Store,
		gen:        cfg.Generator,
		resolver:   NewResolver(cfg.Store, clock),
		skip:       NewPolicy(cfg.Store, clock, cfg.Cooldown, totals),
		intro:      NewIntroHandler(cfg.Store, cfg.Generator, clock, cfg.Bank.Total()),
		assessment: NewAssessmentHandler(cfg.Store, cfg.Bank, clock),
		planning:   NewPlanningHandler(cfg.Store, cfg.Generator, clock, cfg.Topics),
		logger:     slog.Default().With("component", "orchestrator"),
	}
}

// Resolve exposes the current flow state of a user.
func (o *Orchestrator) Resolve(ctx context.Context, userID string) FlowState {
	return o.resolver.Resolve(ctx, userID)
}

// Skip puts a stage on cooldown on explicit request.
func (o *Orchestrator) Skip(ctx context.Context, userID string, stage Stage) (string, error) {
	return o.skip.SetSkipCooldown(ctx, userID, stage)
}

// Turn ids are namespaced by user so two users reusing a client message id
// never see each other's turns.
func turnID(userID, messageID string) string { return userID + "/" + messageID }

func replyID(userID, messageID string) string { return turnID(userID, messageID) + "/reply" }

// ProcessMessage never returns an error: internal failures become a friendly
// continuation prompt and are logged.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req MessageRequest) Reply {
	if strings.TrimSpace(req.UserID) == "" {
		return Reply{Response: continueMessage, Stage: StageIntro}
	}
	if req.ThreadID == "" {
		req.ThreadID = req.UserID
	}

	if req.MessageID != "" {
		prev, err := o.store.GetMessage(ctx, replyID(req.UserID, req.MessageID))
		switch {
		case err == nil && prev.UserID == req.UserID:
			return Reply{Response: prev.Content, Stage: Stage(prev.Stage), Replayed: true}
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			o.logger.Warn("replay lookup failed", "user_id", req.UserID, "error", err)
		}
	}

	state := o.resolver.Resolve(ctx, req.UserID)
	if state.Degraded {
		return Reply{Response: continueMessage, Stage: StageIntro}
	}

	reply, err := o.dispatch(ctx, req, state)
	if err != nil {
		o.logger.Warn("processing message failed", "user_id", req.UserID, "stage", state.CurrentFlow, "error", err)
		reply = Reply{Response: continueMessage, Stage: state.CurrentFlow}
	}

	o.remember(ctx, req, state.CurrentFlow, reply)
	return reply
}

func (o *Orchestrator) dispatch(ctx context.Context, req MessageRequest, state FlowState) (Reply, error) {
	stage := state.CurrentFlow
	if (stage == StageAssessment || stage == StagePlanning) && DetectSkipIntent(req.Message) {
		ack, err := o.skip.SetSkipCooldown(ctx, req.UserID, stage)
		if err != nil {
			return Reply{}, err
		}
		o.logger.Info("stage skipped", "user_id", req.UserID, "stage", stage)
		return Reply{Response: ack, Stage: stage}, nil
	}

	switch stage {
	case StageIntro:
		history, err := o.history(ctx, req)
		if err != nil {
			return Reply{}, err
		}
		res, err := o.intro.Handle(ctx, req.UserID, req.Message, state.Assessment, history)
		if err != nil {
			return Reply{}, err
		}
		if !res.Complete {
			return Reply{Response: res.Message, Stage: StageIntro}, nil
		}
		return o.handoff(ctx, req.UserID, res.Message, Reply{Stage: StageIntro})

	case StageAssessment:
		res, err := o.assessment.Handle(ctx, req.UserID, req.Message, state.Assessment)
		if err != nil {
			return Reply{}, err
		}
		p := res.Progress
		if !res.FlowComplete {
			return Reply{Response: res.Message, Stage: StageAssessment, Progress: &p}, nil
		}
		return o.handoff(ctx, req.UserID, res.Message, Reply{
			Stage:        StageAssessment,
			FlowComplete: true,
			Progress:     &p,
			Archetype:    string(res.Archetype),
		})

	case StagePlanning:
		history, err := o.history(ctx, req)
		if err != nil {
			return Reply{}, err
		}
		res, err := o.planning.Handle(ctx, req.UserID, req.Message, state.Planning, history)
		if err != nil {
			return Reply{}, err
		}
		p := res.Progress
		if !res.FlowComplete {
			return Reply{Response: res.Message, Stage: StagePlanning, Progress: &p}, nil
		}
		return o.handoff(ctx, req.UserID, res.Message, Reply{Stage: StagePlanning, FlowComplete: true, Progress: &p})

	default:
		return o.chat(ctx, req)
	}
}

// handoff re-resolves after a completed stage and appends the opening of
// whatever stage comes next, so the user never gets an empty turn.
func (o *Orchestrator) handoff(ctx context.Context, userID, closing string, reply Reply) (Reply, error) {
	next := o.resolver.Resolve(ctx, userID)
	if next.Degraded {
		reply.Response = closing
		return reply, nil
	}

	var opening string
	switch next.CurrentFlow {
	case StageAssessment:
		res, err := o.assessment.Open(ctx, userID, next.Assessment)
		if err != nil {
			return Reply{}, err
		}
		opening = "First, a quick assessment. Just answer with a letter.\n\n" + res.Message
		if !reply.FlowComplete {
			p := res.Progress
			reply.Progress = &p
		}
	case StagePlanning:
		res, err := o.planning.Open(ctx, userID, next.Planning)
		if err != nil {
			return Reply{}, err
		}
		opening = res.Message
	case StageMainChat:
		opening = "You're all set! From here on, just tell me what you're working on and I'll help you stay on track."
	}

	reply.Response = closing
	if opening != "" {
		reply.Response = closing + "\n\n" + opening
	}
	reply.Transitioned = next.CurrentFlow != reply.Stage
	reply.Stage = next.CurrentFlow
	return reply, nil
}

func (o *Orchestrator) chat(ctx context.Context, req MessageRequest) (Reply, error) {
	history, err := o.history(ctx, req)
	if err != nil {
		o.logger.Warn("loading history failed", "user_id", req.UserID, "error", err)
	}

	var b strings.Builder
	b.WriteString("You are a warm, practical accountability wingman for a creative person at Fridays at Four. Keep replies short and end with one concrete next step.")
	if p, err := o.store.GetCreativityProfile(ctx, req.UserID); err == nil {
		fmt.Fprintf(&b, "\nTheir creative archetype is %s (%s).", p.Archetype, p.ExperienceLevel)
	}
	if ov, err := o.store.GetProjectOverview(ctx, req.UserID); err == nil {
		if ov.Summary != "" {
			fmt.Fprintf(&b, "\nTheir project: %s", ov.Summary)
		} else {
			fmt.Fprintf(&b, "\nTheir project: %s. Goals: %s. Challenges: %s.", ov.ProjectName, ov.Goals, ov.Challenges)
		}
	}

	text, err := o.gen.Generate(ctx, llm.Request{
		System:   b.String(),
		Messages: append(toLLM(history), llm.Message{Role: llm.RoleUser, Content: req.Message}),
	})
	if err != nil {
		o.logger.Warn("chat reply fell back to static text", "user_id", req.UserID, "error", err)
		text = "I'm having trouble thinking right now. Tell me what you worked on today and what's next?"
	}
	return Reply{Response: text, Stage: StageMainChat}, nil
}

func (o *Orchestrator) history(ctx context.Context, req MessageRequest) ([]storage.Message, error) {
	msgs, err := o.store.RecentMessages(ctx, req.UserID, req.ThreadID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return msgs, nil
}

// remember stores both sides of the turn. Failures are logged only.
func (o *Orchestrator) remember(ctx context.Context, req MessageRequest, stage Stage, reply Reply) {
	userMsg := storage.Message{UserID: req.UserID, ThreadID: req.ThreadID, Role: llm.RoleUser, Content: req.Message, Stage: string(stage)}
	botMsg := storage.Message{UserID: req.UserID, ThreadID: req.ThreadID, Role: llm.RoleAssistant, Content: reply.Response, Stage: string(reply.Stage)}
	if req.MessageID != "" {
		userMsg.ID = turnID(req.UserID, req.MessageID)
		botMsg.ID = replyID(req.UserID, req.MessageID)
	}
	for _, m := range []storage.Message{userMsg, botMsg} {
		if err := o.store.AppendMessage(ctx, m); err != nil {
			o.logger.Warn("storing conversation turn failed", "user_id", req.UserID, "error", err)
			return
		}
	}
}
