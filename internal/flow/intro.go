package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/storage"
)

// Intro completion thresholds.
const (
	IntroMinTopicSignals = 3
	IntroMinUserTurns    = 3
)

// Intro stages. introReady is the last one: the user has been told about the
// assessment and asked whether to start.
const (
	introNotStarted = iota
	introAskedName
	introAskedProject
	introAskedAccountability
	introReady
)

var topicSignals = map[string][]string{
	"name":           {"my name", "i'm", "i am", "call me"},
	"project":        {"project", "working on", "building", "writing", "book", "novel", "album", "startup", "app", "business", "film", "painting"},
	"accountability": {"accountab", "deadline", "on track", "coach", "partner", "check in", "check-in"},
	"goals":          {"goal", "finish", "launch", "complete", "ship"},
	"challenges":     {"struggle", "stuck", "procrastinat", "challenge", "motivation", "overwhelm"},
	"time":           {"week", "month", "hours", "schedule", "weekend"},
}

var readinessPhrases = []string{
	"ready", "let's go", "lets go", "let's do it", "lets do it", "let's start", "lets start",
	"sounds good", "yes", "yeah", "yep", "sure", "ok", "okay", "i'm in", "go ahead", "start",
}

// IntroResult is the outcome of one intro turn. Snapshot is the assessment
// family as written by this turn.
type IntroResult struct {
	Message  string
	Complete bool
	Snapshot progress.Snapshot
}

// IntroHandler runs the getting-to-know-you conversation.
type IntroHandler struct {
	store      ProgressStore
	gen        Generator
	clock      Clock
	totalSteps int
	logger     *slog.Logger
}

// NewIntroHandler creates a handler. totalSteps is the assessment length,
// stored on the shared record when the intro creates it.
func NewIntroHandler(store ProgressStore, gen Generator, clock Clock, totalSteps int) *IntroHandler {
	if clock == nil {
		clock = realClock{}
	}
	return &IntroHandler{store: store, gen: gen, clock: clock, totalSteps: totalSteps, logger: slog.Default().With("component", "intro")}
}

// Handle records what the message tells us, then either completes the intro
// or asks the LLM for the next conversational turn. Captured data is stored
// before the LLM is called.
func (h *IntroHandler) Handle(ctx context.Context, userID, message string, snap progress.Snapshot, history []storage.Message) (IntroResult, error) {
	rec := progress.New(userID, progress.FamilyAssessment, h.totalSteps)
	if snap.Progress != nil {
		rec = *snap.Progress
	}
	stage := rec.Intro.IntroStage
	data := &rec.Intro.IntroData

	if data.Name == "" && stage <= introAskedName {
		if name := extractName(message, stage == introAskedName); name != "" {
			data.Name = name
		}
	}
	switch stage {
	case introAskedProject:
		data.ProjectInfo = strings.TrimSpace(message)
	case introAskedAccountability:
		data.AccountabilityExperience = strings.TrimSpace(message)
	}

	userTurns := 1
	texts := []string{message}
	for _, m := range history {
		if m.Role == llm.RoleUser {
			userTurns++
			texts = append(texts, m.Content)
		}
	}

	ready := stage == introReady && userTurns >= IntroMinUserTurns && isReady(message)
	if ready && countSignals(*data, texts) >= IntroMinTopicSignals {
		return h.finish(ctx, rec)
	}

	if stage < introReady {
		rec.Intro.IntroStage = stage + 1
	}
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		return IntroResult{}, fmt.Errorf("saving intro progress: %w", err)
	}
	snap = progress.Snapshot{Progress: &rec, ResultExists: snap.ResultExists}

	reply, err := h.gen.Generate(ctx, llm.Request{
		System:   introSystemPrompt(rec.Intro),
		Messages: append(toLLM(history), llm.Message{Role: llm.RoleUser, Content: message}),
	})
	if err != nil {
		h.logger.Warn("intro reply fell back to static text", "user_id", userID, "error", err)
		return IntroResult{Message: introFallback(rec.Intro), Snapshot: snap}, nil
	}

	if ready && countSignals(*data, append(texts, reply)) >= IntroMinTopicSignals {
		return h.finish(ctx, rec)
	}
	return IntroResult{Message: reply, Snapshot: snap}, nil
}

func (h *IntroHandler) finish(ctx context.Context, rec progress.Record) (IntroResult, error) {
	rec.Intro.HasSeenIntro = true
	rec.Intro.IntroStage = introReady
	rec.UpdatedAt = h.clock.Now()
	if err := h.store.UpsertProgress(ctx, rec); err != nil {
		return IntroResult{}, fmt.Errorf("completing intro: %w", err)
	}
	h.logger.Info("intro complete", "user_id", rec.UserID)

	msg := "Great, let's get started!"
	if rec.Intro.IntroData.Name != "" {
		msg = fmt.Sprintf("Great, %s, let's get started!", rec.Intro.IntroData.Name)
	}
	return IntroResult{Message: msg, Complete: true, Snapshot: progress.Snapshot{Progress: &rec}}, nil
}

func introSystemPrompt(f progress.IntroFlags) string {
	var b strings.Builder
	b.WriteString("You are a warm, concise accountability wingman for creative people at Fridays at Four. ")
	b.WriteString("Keep replies to two or three sentences and ask exactly one question.\n")
	switch f.IntroStage {
	case introAskedName:
		b.WriteString("Greet the user and ask what they would like to be called.")
	case introAskedProject:
		b.WriteString("Ask what creative project they are working on.")
	case introAskedAccountability:
		b.WriteString("Ask about their past experience with accountability: partners, coaches, deadlines.")
	default:
		b.WriteString("Explain that next comes a short multiple-choice assessment of their creative style, and ask if they are ready to start.")
	}
	d := f.IntroData
	if d.Name != "" {
		fmt.Fprintf(&b, "\nUser's name: %s", d.Name)
	}
	if d.ProjectInfo != "" {
		fmt.Fprintf(&b, "\nTheir project: %s", d.ProjectInfo)
	}
	if d.AccountabilityExperience != "" {
		fmt.Fprintf(&b, "\nAccountability experience: %s", d.AccountabilityExperience)
	}
	return b.String()
}

func introFallback(f progress.IntroFlags) string {
	switch f.IntroStage {
	case introAskedName:
		return "Hi, I'm your Fridays at Four wingman! What should I call you?"
	case introAskedProject:
		return "Nice to meet you! What creative project are you working on right now?"
	case introAskedAccountability:
		return "Love it. Have you worked with an accountability partner, coach or deadlines before?"
	default:
		return "Thanks for sharing! Next up is a quick multiple-choice assessment of your creative style. Ready to start?"
	}
}

// extractName picks a name out of "I'm Sam", "my name is Sam" or "call me
// Sam". When direct is set (we just asked for a name) a reply of one or two
// words is taken as the name itself.
func extractName(message string, direct bool) string {
	lower := strings.ToLower(message)
	for _, prefix := range []string{"my name is ", "call me ", "i'm ", "i am ", "it's ", "this is "} {
		if i := strings.Index(lower, prefix); i >= 0 {
			rest := strings.Fields(message[i+len(prefix):])
			if len(rest) > 0 {
				return cleanName(rest[0])
			}
		}
	}
	if direct {
		words := strings.Fields(message)
		if len(words) >= 1 && len(words) <= 2 {
			return cleanName(strings.Join(words, " "))
		}
	}
	return ""
}

func cleanName(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func countSignals(d progress.IntroData, texts []string) int {
	seen := make(map[string]bool)
	if d.Name != "" {
		seen["name"] = true
	}
	if d.ProjectInfo != "" {
		seen["project"] = true
	}
	if d.AccountabilityExperience != "" {
		seen["accountability"] = true
	}
	for _, t := range texts {
		lower := strings.ToLower(t)
		for topic, keywords := range topicSignals {
			if seen[topic] {
				continue
			}
			for _, k := range keywords {
				if strings.Contains(lower, k) {
					seen[topic] = true
					break
				}
			}
		}
	}
	return len(seen)
}

// isReady matches readiness phrases on word boundaries, so "ok" does not
// match inside "book".
func isReady(message string) bool {
	norm := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return ' '
	}, message)
	padded := " " + strings.Join(strings.Fields(norm), " ") + " "
	for _, p := range readinessPhrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
