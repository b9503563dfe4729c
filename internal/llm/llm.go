// Package llm is the language-model collaborator used by the free-text
// onboarding stages. Providers speak to a concrete backend; Router adds a
// per-call timeout and falls back across providers.
package llm

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable means no provider produced a reply. Callers answer with
	// static text instead.
	ErrUnavailable = errors.New("llm unavailable")
	// ErrRateLimited is returned by a provider after its retries are spent on HTTP 429.
	ErrRateLimited = errors.New("llm rate limited")
)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request. System is sent as the leading
// system message.
type Request struct {
	System   string
	Messages []Message
}

func (r Request) wire() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	if strings.TrimSpace(r.System) != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.System})
	}
	return append(out, r.Messages...)
}

// Provider generates one assistant reply.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
