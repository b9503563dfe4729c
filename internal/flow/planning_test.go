package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/summary"
)

func TestLoadTopics(t *testing.T) {
	topics, err := LoadTopics()
	require.NoError(t, err)
	assert.Len(t, topics, 8)
	assert.Equal(t, "project_name", topics[0].Field)
	for _, tp := range topics {
		assert.NotEmpty(t, tp.Prompt, tp.Field)
	}
}

func TestPlanning_CompletesAndEnqueuesSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.finishAssessment(t, "u1")

	r := h.send(t, "u1", "what's next?")
	assert.Equal(t, StagePlanning, r.Stage)
	assert.Contains(t, r.Response, "name of your project")

	answers := []string{
		"Quiet Rooms",
		"A novel",
		"Lighthouse keepers falling out of love",
		"Finish the first draft",
		"I doubt myself",
		"Sending it to an agent",
		"By December",
		"Early mornings",
	}
	for i, a := range answers[:7] {
		r = h.send(t, "u1", a)
		require.False(t, r.FlowComplete, "answer %d", i+1)
		require.NotNil(t, r.Progress)
		assert.Equal(t, i+2, r.Progress.CurrentStep)
	}

	r = h.send(t, "u1", answers[7])
	assert.True(t, r.FlowComplete)
	assert.True(t, r.Transitioned)
	assert.Equal(t, StageMainChat, r.Stage)
	assert.Contains(t, r.Response, "Quiet Rooms")
	assert.Contains(t, r.Response, "You're all set")

	o, err := h.store.GetProjectOverview(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Quiet Rooms", o.ProjectName)
	assert.Equal(t, "A novel", o.ProjectType)
	assert.Equal(t, "By December", o.Timeline)
	assert.Equal(t, "Early mornings", o.WorkingStyle)
	assert.Len(t, o.TopicResponses, 8)

	job, err := h.store.ClaimNextJob(ctx, []string{summary.JobType})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Contains(t, job.PayloadJSON, `"user_id":"u1"`)

	st := h.orch.Resolve(ctx, "u1")
	assert.Equal(t, StageMainChat, st.CurrentFlow)
	assert.True(t, st.AllFlowsComplete)
}

func TestPlanning_AnswerStoredBeforeLLMFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.finishAssessment(t, "u1")
	h.send(t, "u1", "ready")

	h.gen.err = llm.ErrUnavailable
	r := h.send(t, "u1", "Quiet Rooms")
	assert.Equal(t, StagePlanning, r.Stage)
	assert.Contains(t, r.Response, "What kind of project")

	rec, err := h.store.GetProgress(ctx, "u1", progress.FamilyPlanning)
	require.NoError(t, err)
	assert.Equal(t, "Quiet Rooms", rec.Responses[progress.TopicKey(1)].Value())
	assert.Equal(t, progress.KindFreeText, rec.Responses[progress.TopicKey(1)].Kind())
	assert.Equal(t, 3, rec.CurrentStep)
}

func TestPlanning_LLMPhrasesNextTopic(t *testing.T) {
	h := newHarness(t)
	h.finishAssessment(t, "u1")
	h.send(t, "u1", "ready")

	h.gen.reply = "Lovely title! What kind of project is it?"
	r := h.send(t, "u1", "Quiet Rooms")
	assert.Equal(t, h.gen.reply, r.Response)
	assert.Contains(t, h.gen.last().System, "What kind of project is it?")
}

func TestPlanning_EmptyReplyRepeatsTopic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.finishAssessment(t, "u1")
	h.send(t, "u1", "ready")

	r := h.send(t, "u1", "   ")
	assert.Contains(t, r.Response, "name of your project")

	rec, err := h.store.GetProgress(ctx, "u1", progress.FamilyPlanning)
	require.NoError(t, err)
	assert.Empty(t, rec.Responses)
	assert.Equal(t, 2, rec.CurrentStep)
}

func TestPlanning_MalformedProgress(t *testing.T) {
	store := openTestStore(t)
	topics, err := LoadTopics()
	require.NoError(t, err)
	h := NewPlanningHandler(store, &fakeGenerator{reply: "x"}, newFakeClock(), topics)

	rec := progress.New("u1", progress.FamilyPlanning, len(topics))
	rec.CurrentStep = 0
	res, err := h.Handle(context.Background(), "u1", "hi", &progress.Snapshot{Progress: &rec}, nil)
	require.NoError(t, err)
	assert.Equal(t, continueMessage, res.Message)
}
