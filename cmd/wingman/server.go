package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/fridaysatfour/wingman/internal/api"
	"github.com/fridaysatfour/wingman/internal/config"
	"github.com/fridaysatfour/wingman/internal/flow"
	"github.com/fridaysatfour/wingman/internal/llm"
	"github.com/fridaysatfour/wingman/internal/scoring"
	"github.com/fridaysatfour/wingman/internal/storage"
	"github.com/fridaysatfour/wingman/internal/summary"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wingman server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running wingman server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wingman system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "wingman.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// buildProviders orders the LLM backends: OpenRouter primary model, then
// its fallback model, then local Ollama.
func buildProviders(cfg config.Config) []llm.Provider {
	retry := llm.RetryPolicy{MaxAttempts: cfg.LLM.MaxAttempts, BaseDelay: cfg.LLM.BaseDelay}

	var providers []llm.Provider
	if cfg.HasRemoteLLM() {
		providers = append(providers, llm.NewOpenRouter(cfg.LLM.OpenRouterAPIKey, cfg.LLM.Model, "", retry))
		if cfg.LLM.FallbackModel != "" && cfg.LLM.FallbackModel != cfg.LLM.Model {
			providers = append(providers, llm.NewOpenRouter(cfg.LLM.OpenRouterAPIKey, cfg.LLM.FallbackModel, "", retry))
		}
	}
	if cfg.LLM.OllamaBaseURL != "" && cfg.LLM.OllamaModel != "" {
		providers = append(providers, llm.NewOllama(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel))
	}
	return providers
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "wingman version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("wingman is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("wingman is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	bank, err := scoring.Load(cfg.Assessment.Variant)
	if err != nil {
		return fmt.Errorf("loading question bank: %w", err)
	}
	topics, err := flow.LoadTopics()
	if err != nil {
		return fmt.Errorf("loading planning topics: %w", err)
	}

	providers := buildProviders(cfg)
	if len(providers) == 0 {
		printWarning("no LLM provider configured; replies will use static fallbacks")
	}
	router := llm.NewRouter(cfg.LLM.Timeout, providers...)
	for _, p := range router.Providers() {
		slog.Info("LLM provider registered", "provider", p.Name())
	}

	orch := flow.New(flow.Config{
		Store:     store,
		Generator: router,
		Bank:      bank,
		Topics:    topics,
		Cooldown:  cfg.Flow.SkipCooldown,
	})

	worker := summary.NewWorker(store, router, time.Second)
	go worker.Run(ctx)

	if cfg.API.Token == "" {
		printWarning("api.token is not set; the HTTP API accepts unauthenticated requests")
	}
	handler := api.NewHandler(api.Deps{Flow: orch, Store: store, Token: cfg.API.Token})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Flow: orch, Store: store}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "wingman listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("wingman is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop wingman (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to wingman (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "unhealthy (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.HasRemoteLLM() {
		printStatus("OpenRouter", "%s (fallback %s)", cfg.LLM.Model, cfg.LLM.FallbackModel)
	} else {
		printStatus("OpenRouter", "no API key")
	}

	ollama := llm.NewOllama(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel)
	if !ollama.IsRunning(ctx) {
		printStatus("Ollama", "not running at %s", cfg.LLM.OllamaBaseURL)
	} else if ok, err := ollama.HasModel(ctx); err == nil && ok {
		printStatus("Ollama", "running, %s available", cfg.LLM.OllamaModel)
	} else {
		printStatus("Ollama", "running, %s not pulled", cfg.LLM.OllamaModel)
	}

	printStatus("Assessment", "%s variant", cfg.Assessment.Variant)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
