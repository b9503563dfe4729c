package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fridaysatfour/wingman/internal/flow"
	"github.com/fridaysatfour/wingman/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Flow  Flow
	Store UserStore
}

// NewMCPServer creates an MCP server exposing the onboarding flow as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"wingman",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("wingman guides a creative user through intro, assessment and project planning before open coaching chat."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a user message to the onboarding flow and return the reply."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The user's message text"), mcp.Required()),
			mcp.WithString("thread_id", mcp.Description("Conversation thread (defaults to the user id)")),
			mcp.WithString("message_id", mcp.Description("Idempotency key, unique per user. Set it when a call may be retried: without it a resent letter answers the next question")),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("get_flow_state",
			mcp.WithDescription("Return which onboarding stage the user is in and what is still outstanding."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetFlowState(deps),
	)

	s.AddTool(
		mcp.NewTool("get_archetype",
			mcp.WithDescription("Return the user's creative archetype and experience level, if the assessment is done."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetArchetype(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		reply := deps.Flow.ProcessMessage(ctx, flow.MessageRequest{
			UserID:    userID,
			Message:   message,
			ThreadID:  req.GetString("thread_id", ""),
			MessageID: req.GetString("message_id", ""),
		})
		return mcpJSON(reply)
	}
}

func mcpGetFlowState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		return mcpJSON(deps.Flow.Resolve(ctx, userID))
	}
}

func mcpGetArchetype(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}

		p, err := deps.Store.GetCreativityProfile(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpText(fmt.Sprintf("User %s has not finished the assessment yet.", userID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		return mcpJSON(map[string]any{
			"archetype":        p.Archetype,
			"experience_level": p.ExperienceLevel,
			"scores":           p.ArchetypeScores,
		})
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
