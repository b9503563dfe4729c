package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/scoring"
)

func TestAssessment_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.send(t, "u1", "hi")
	assert.Equal(t, StageIntro, first.Stage)

	h.finishIntro(t, "u1")
	st := h.orch.Resolve(ctx, "u1")
	require.Equal(t, StageAssessment, st.CurrentFlow)

	r := h.send(t, "u1", "hello again")
	assert.Equal(t, StageAssessment, r.Stage)
	require.NotNil(t, r.Progress)
	assert.Equal(t, 1, r.Progress.CurrentStep)
	assert.Equal(t, 12, r.Progress.TotalSteps)
	assert.Contains(t, r.Response, "Question 1 of 12")

	var prevStep int
	for i := 1; i <= 11; i++ {
		r = h.send(t, "u1", "A")
		require.False(t, r.FlowComplete, "answer %d", i)
		require.NotNil(t, r.Progress)
		assert.Greater(t, r.Progress.CurrentStep, prevStep, "current_step must not decrease")
		prevStep = r.Progress.CurrentStep
	}
	assert.Equal(t, 12, r.Progress.CurrentStep)
	assert.Equal(t, 91.67, r.Progress.CompletionPercentage)

	r = h.send(t, "u1", "A")
	assert.True(t, r.FlowComplete)
	assert.Equal(t, "Analyzer", r.Archetype)
	assert.True(t, r.Transitioned)
	assert.Equal(t, StagePlanning, r.Stage)
	assert.Contains(t, r.Response, "Analyzer")
	assert.Contains(t, r.Response, "name of your project")

	profile, err := h.store.GetCreativityProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Analyzer", profile.Archetype)
	assert.Equal(t, scoring.LevelAdvanced, profile.ExperienceLevel)
	assert.Len(t, profile.TestResponses, 12)

	st = h.orch.Resolve(ctx, "u1")
	assert.NotEqual(t, StageAssessment, st.CurrentFlow)

	rec, err := h.store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	require.NoError(t, err)
	assert.True(t, rec.IsCompleted)
	assert.True(t, rec.Intro.HasSeenIntro)
}

func TestAssessment_AssessmentBypassesLLM(t *testing.T) {
	h := newHarness(t)
	h.finishIntro(t, "u1")

	h.send(t, "u1", "start")
	h.send(t, "u1", "B")
	assert.Empty(t, h.gen.requests)
}

func TestAssessment_FailedExtractionDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.finishIntro(t, "u1")
	h.send(t, "u1", "start")

	before, err := h.store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	require.NoError(t, err)

	r := h.send(t, "u1", "hmm I really cannot decide between these options")
	assert.Contains(t, r.Response, "Please choose A, B, C, D, E, or F for question 1")
	assert.False(t, r.FlowComplete)

	after, err := h.store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	require.NoError(t, err)
	assert.Equal(t, before.CurrentStep, after.CurrentStep)
	assert.Empty(t, after.Responses)
}

func TestAssessment_ReplayOfSameSnapshotConverges(t *testing.T) {
	store := openTestStore(t)
	bank := scoring.MustLoad(scoring.VariantConfidence)
	h := NewAssessmentHandler(store, bank, newFakeClock())
	ctx := context.Background()

	rec := progress.New("u1", progress.FamilyAssessment, bank.Total())
	rec.CurrentStep = 4
	rec.Put(progress.QuestionKey(1), progress.LetterAnswer{Letter: "A"})
	rec.Put(progress.QuestionKey(2), progress.LetterAnswer{Letter: "B"})
	require.NoError(t, store.UpsertProgress(ctx, rec))
	snap := progress.Snapshot{Progress: &rec}

	// A retried delivery is processed against the same pre-turn state.
	for range 2 {
		res, err := h.Handle(ctx, "u1", "C", snap)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Progress.CurrentStep)
	}

	got, err := store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentStep)
	assert.Len(t, got.Responses, 3)
	assert.Equal(t, "C", got.Responses[progress.QuestionKey(3)].Value())
	// The caller's snapshot is not mutated.
	assert.Len(t, rec.Responses, 2)
}

func TestAssessment_ReplayedMessageIDIsNotReprocessed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.finishIntro(t, "u1")
	h.send(t, "u1", "start")

	req := MessageRequest{UserID: "u1", ThreadID: "thread-u1", Message: "B", MessageID: "m-42"}
	first := h.orch.ProcessMessage(ctx, req)
	second := h.orch.ProcessMessage(ctx, req)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)

	rec, err := h.store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	require.NoError(t, err)
	assert.Len(t, rec.Responses, 1)
	assert.Equal(t, 3, rec.CurrentStep)
}

func TestProcessMessage_MessageIDIsScopedToUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.finishIntro(t, "alice")
	h.send(t, "alice", "start")

	h.gen.reply = "reply for alice"
	alice := h.orch.ProcessMessage(ctx, MessageRequest{UserID: "alice", ThreadID: "thread-alice", Message: "A", MessageID: "1"})
	require.False(t, alice.Replayed)

	h.gen.reply = "reply for bob"
	bob := h.orch.ProcessMessage(ctx, MessageRequest{UserID: "bob", ThreadID: "thread-bob", Message: "hi, I'm Bob", MessageID: "1"})
	assert.False(t, bob.Replayed)
	assert.Equal(t, StageIntro, bob.Stage)
	assert.Equal(t, "reply for bob", bob.Response)
	assert.NotEqual(t, alice.Response, bob.Response)

	rec, err := h.store.GetProgress(ctx, "bob", progress.FamilyAssessment)
	require.NoError(t, err, "bob's message must be processed")
	assert.Equal(t, "Bob", rec.Intro.IntroData.Name)

	again := h.orch.ProcessMessage(ctx, MessageRequest{UserID: "bob", ThreadID: "thread-bob", Message: "hi, I'm Bob", MessageID: "1"})
	assert.True(t, again.Replayed)
	assert.Equal(t, "reply for bob", again.Response)
}

func TestAssessment_MalformedProgress(t *testing.T) {
	store := openTestStore(t)
	bank := scoring.MustLoad(scoring.VariantConfidence)
	h := NewAssessmentHandler(store, bank, newFakeClock())
	ctx := context.Background()

	rec := progress.New("u1", progress.FamilyAssessment, bank.Total())
	rec.CurrentStep = 40
	require.NoError(t, store.UpsertProgress(ctx, rec))

	res, err := h.Handle(ctx, "u1", "A", progress.Snapshot{Progress: &rec})
	require.NoError(t, err)
	assert.Equal(t, continueMessage, res.Message)
	assert.False(t, res.FlowComplete)

	got, err := store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	require.NoError(t, err)
	assert.Equal(t, 40, got.CurrentStep)
	assert.Empty(t, got.Responses)
}

func TestAssessment_OpenRepeatsCurrentQuestion(t *testing.T) {
	store := openTestStore(t)
	bank := scoring.MustLoad(scoring.VariantCreativity)
	h := NewAssessmentHandler(store, bank, newFakeClock())
	ctx := context.Background()

	rec := progress.New("u1", progress.FamilyAssessment, bank.Total())
	rec.CurrentStep = 6
	res, err := h.Open(ctx, "u1", progress.Snapshot{Progress: &rec})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Question 5 of 11")
	assert.Equal(t, 5, res.Progress.CurrentStep)

	_, err = store.GetProgress(ctx, "u1", progress.FamilyAssessment)
	assert.Error(t, err, "Open on a started assessment must not write")
}

func TestOrList(t *testing.T) {
	assert.Equal(t, "A", orList([]string{"A"}))
	assert.Equal(t, "A or B", orList([]string{"A", "B"}))
	assert.Equal(t, "A, B, C, or D", orList([]string{"A", "B", "C", "D"}))
}
