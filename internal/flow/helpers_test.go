package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/scoring"
	"github.com/fridaysatfour/wingman/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 2, 16, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGenerator struct {
	reply    string
	err      error
	requests []llm.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) last() llm.Request {
	if len(g.requests) == 0 {
		return llm.Request{}
	}
	return g.requests[len(g.requests)-1]
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type harness struct {
	store *storage.Store
	gen   *fakeGenerator
	clock *fakeClock
	orch  *Orchestrator
	bank  *scoring.Bank
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	topics, err := LoadTopics()
	require.NoError(t, err)

	h := &harness{
		store: openTestStore(t),
		gen:   &fakeGenerator{reply: "Tell me more!"},
		clock: newFakeClock(),
		bank:  scoring.MustLoad(scoring.VariantConfidence),
	}
	h.orch = New(Config{
		Store:     h.store,
		Generator: h.gen,
		Bank:      h.bank,
		Topics:    topics,
		Clock:     h.clock,
	})
	return h
}

func (h *harness) send(t *testing.T, userID, message string) Reply {
	t.Helper()
	return h.orch.ProcessMessage(context.Background(), MessageRequest{UserID: userID, Message: message, ThreadID: "thread-" + userID})
}

// finishIntro writes the state of a user who has completed the intro.
func (h *harness) finishIntro(t *testing.T, userID string) {
	t.Helper()
	rec := progress.New(userID, progress.FamilyAssessment, h.bank.Total())
	rec.Intro = progress.IntroFlags{HasSeenIntro: true, IntroStage: introReady, IntroData: progress.IntroData{Name: "Sam"}}
	require.NoError(t, h.store.UpsertProgress(context.Background(), rec))
}

// finishAssessment writes the result record without walking the questions.
func (h *harness) finishAssessment(t *testing.T, userID string) {
	t.Helper()
	h.finishIntro(t, userID)
	require.NoError(t, h.store.SaveCreativityProfile(context.Background(), storage.CreativityProfile{
		UserID: userID, Variant: h.bank.Variant, Archetype: "Scholar", ExperienceLevel: scoring.LevelIntermediate,
	}))
}
