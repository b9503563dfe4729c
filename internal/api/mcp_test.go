package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaysatfour/wingman/internal/flow"
	"github.com/fridaysatfour/wingman/internal/scoring"
	"github.com/fridaysatfour/wingman/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	deps, store := newTestDeps(t, "")
	return MCPDeps{Flow: deps.Flow, Store: deps.Store}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "no content in result")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	assert.NotNil(t, NewMCPServer(deps, "test"))
}

func TestMCPTool_SendMessage(t *testing.T) {
	deps, store := newTestMCPDeps(t)

	result, err := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]any{
		"user_id":   "u1",
		"message":   "hi there",
		"thread_id": "mcp",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var reply flow.Reply
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &reply))
	assert.Equal(t, flow.StageIntro, reply.Stage)

	msgs, err := store.RecentMessages(context.Background(), "u1", "mcp", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestMCPTool_SendMessage_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSendMessage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("send_message", map[string]any{"message": "hi"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = handler(context.Background(), makeCallToolRequest("send_message", map[string]any{"user_id": "u1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPTool_GetFlowState(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpGetFlowState(deps)(context.Background(), makeCallToolRequest("get_flow_state", map[string]any{"user_id": "u1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var state flow.FlowState
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &state))
	assert.Equal(t, flow.StageIntro, state.CurrentFlow)
}

func TestMCPTool_GetArchetype(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpGetArchetype(deps)
	req := makeCallToolRequest("get_archetype", map[string]any{"user_id": "u1"})

	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, toolText(t, result), "has not finished")

	require.NoError(t, store.SaveCreativityProfile(context.Background(), storage.CreativityProfile{
		UserID: "u1", Archetype: "Ghost", ExperienceLevel: scoring.LevelBeginner,
		ArchetypeScores: map[string]float64{"Ghost": 4},
	}))

	result, err = handler(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &got))
	assert.Equal(t, "Ghost", got["archetype"])
	assert.Equal(t, scoring.LevelBeginner, got["experience_level"])
}
