package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/fridaysatfour/wingman/internal/config"
	"github.com/fridaysatfour/wingman/internal/flow"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			if resp == "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// captureOutput silences colors and collects status lines.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	oldStderr, oldNoColor := stderr, color.NoColor
	buf := &bytes.Buffer{}
	stderr = buf
	color.NoColor = true
	t.Cleanup(func() {
		stderr = oldStderr
		color.NoColor = oldNoColor
	})
	return buf
}

var ctx = context.Background()

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/messages": `{"response":"Question 1 of 12","stage":"assessment","transitioned":true,"flow_complete":false}`,
	})

	reply, err := sendMessage(ctx, ts.client(), flow.MessageRequest{UserID: "sam", Message: "ready"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Stage != flow.StageAssessment || !reply.Transitioned {
		t.Errorf("unexpected reply: %+v", reply)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if req.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", req.Auth)
	}
	if !strings.Contains(req.Body, `"user_id":"sam"`) || !strings.Contains(req.Body, `"message":"ready"`) {
		t.Errorf("body = %s", req.Body)
	}
}

func TestSendMessage_ResendsSameIDAfterDroppedConnection(t *testing.T) {
	var bodies []flow.MessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req flow.MessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		bodies = append(bodies, req)
		if len(bodies) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"Question 3 of 12","stage":"assessment","replayed":true}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	reply, err := sendMessage(ctx, client, flow.MessageRequest{UserID: "sam", Message: "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reply.Replayed {
		t.Errorf("reply = %+v", reply)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	if bodies[0].MessageID == "" || bodies[0].MessageID != bodies[1].MessageID {
		t.Errorf("message ids = %q, %q; want the same non-empty id", bodies[0].MessageID, bodies[1].MessageID)
	}
}

func TestSendMessage_KeepsCallerMessageID(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/messages": `{"response":"ok","stage":"intro"}`,
	})
	if _, err := sendMessage(ctx, ts.client(), flow.MessageRequest{UserID: "sam", Message: "hi", MessageID: "m-7"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ts.requests[0].Body, `"message_id":"m-7"`) {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestUserPath(t *testing.T) {
	tests := []struct {
		user string
		rest []string
		want string
	}{
		{"sam", nil, "/v1/users/sam"},
		{"sam", []string{"skip"}, "/v1/users/sam/skip"},
		{"a/b c", []string{"flow-state"}, "/v1/users/a%2Fb%20c/flow-state"},
	}
	for _, tt := range tests {
		if got := userPath(tt.user, tt.rest...); got != tt.want {
			t.Errorf("userPath(%q, %v) = %q, want %q", tt.user, tt.rest, got, tt.want)
		}
	}
}

func TestSendMessage_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := sendMessage(ctx, ts.client(), flow.MessageRequest{UserID: "sam", Message: "hi"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestRunChat(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /v1/messages": `{"response":"Nice to meet you!","stage":"intro"}`,
	})

	in := strings.NewReader("hello\n\n   \nI'm Sam\n/quit\nnever sent\n")
	var out bytes.Buffer
	if err := runChat(ctx, ts.client(), "sam", "cli", in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	if !strings.Contains(ts.requests[1].Body, `"thread_id":"cli"`) {
		t.Errorf("thread not sent: %s", ts.requests[1].Body)
	}
	if strings.Count(out.String(), "Nice to meet you!") != 2 {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintReply(t *testing.T) {
	status := captureOutput(t)
	var out bytes.Buffer

	printReply(&out, flow.Reply{
		Response:     "Question 12 of 12",
		Stage:        flow.StageAssessment,
		Transitioned: true,
		Progress:     &flow.Progress{CurrentStep: 12, TotalSteps: 12, CompletionPercentage: 91.67},
	})

	if out.String() != "Question 12 of 12\n" {
		t.Errorf("stdout = %q", out.String())
	}
	got := status.String()
	if !strings.Contains(got, "now in assessment") || !strings.Contains(got, "12 of 12 (92%)") {
		t.Errorf("status = %q", got)
	}
	if strings.Contains(got, "\033[") {
		t.Errorf("status contains ANSI codes with colors disabled: %q", got)
	}
}

func TestFetchFlowState(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/users/sam/flow-state": `{"needs_intro":false,"needs_assessment":false,"needs_planning":true,"current_flow":"planning","all_flows_complete":false}`,
	})

	state, err := fetchFlowState(ctx, ts.client(), "sam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CurrentFlow != flow.StagePlanning || !state.NeedsPlanning || state.NeedsIntro {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestSkipStage(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/users/sam/skip": `{"message":"Totally fine, we'll plan your project later."}`,
	})

	msg, err := skipStage(ctx, ts.client(), "sam", "planning")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(msg, "later") {
		t.Errorf("msg = %q", msg)
	}
	if ts.requests[0].Body != `{"family":"planning"}` {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestDecodeJSON_NoContent(t *testing.T) {
	ts := newTestServer(t, map[string]string{"DELETE /v1/users/sam": ""})

	resp, err := ts.client().delete(ctx, "/v1/users/sam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Errorf("decodeJSON: %v", err)
	}
}

func TestServerNotRunning(t *testing.T) {
	client := &apiClient{
		baseURL:    "http://127.0.0.1:1",
		httpClient: http.DefaultClient,
	}
	_, err := client.get(ctx, "/health")
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v, want it to mention 'not reachable'", err)
	}
}

func TestBuildProviders(t *testing.T) {
	base := config.Config{LLM: config.LLMConfig{
		Model:         "anthropic/claude-sonnet-4",
		FallbackModel: "openai/gpt-4o-mini",
		OllamaBaseURL: "http://localhost:11434",
		OllamaModel:   "llama3.2",
		MaxAttempts:   3,
	}}

	tests := []struct {
		name string
		edit func(c *config.Config)
		want []string
	}{
		{"no key", func(c *config.Config) {}, []string{"ollama:llama3.2"}},
		{"key", func(c *config.Config) { c.LLM.OpenRouterAPIKey = "sk" },
			[]string{"openrouter:anthropic/claude-sonnet-4", "openrouter:openai/gpt-4o-mini", "ollama:llama3.2"}},
		{"same fallback", func(c *config.Config) {
			c.LLM.OpenRouterAPIKey = "sk"
			c.LLM.FallbackModel = c.LLM.Model
		}, []string{"openrouter:anthropic/claude-sonnet-4", "ollama:llama3.2"}},
		{"nothing", func(c *config.Config) { c.LLM.OllamaModel = "" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.edit(&cfg)
			var got []string
			for _, p := range buildProviders(cfg) {
				got = append(got, p.Name())
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("providers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid <= 0 {
		t.Errorf("readPIDFile = %d, %v", pid, err)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still readable after removal")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{"start", "stop", "status", "chat", "flow", "summary", "skip", "reset", "config"}
	var subs []string
	for _, c := range configCmd.Commands() {
		subs = append(subs, c.Name())
	}
	if got := strings.Join(subs, ","); got != "set,show,unset" {
		t.Errorf("config subcommands = %s", got)
	}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
