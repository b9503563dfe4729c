package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/fridaysatfour/wingman/internal/flow"
	"github.com/fridaysatfour/wingman/internal/progress"
	"github.com/fridaysatfour/wingman/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Flow is the onboarding engine as seen by the transport layer.
type Flow interface {
	ProcessMessage(ctx context.Context, req flow.MessageRequest) flow.Reply
	Resolve(ctx context.Context, userID string) flow.FlowState
	Skip(ctx context.Context, userID string, stage flow.Stage) (string, error)
}

// UserStore is the subset of storage the management endpoints read.
type UserStore interface {
	GetCreativityProfile(ctx context.Context, userID string) (storage.CreativityProfile, error)
	GetProjectOverview(ctx context.Context, userID string) (storage.ProjectOverview, error)
	ResetUser(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

type Deps struct {
	Flow  Flow
	Store UserStore
	// Token enables bearer auth on /v1 routes when non-empty.
	Token string
}

// UserSummary bundles both result records of a user. Either may be absent.
type UserSummary struct {
	UserID            string                     `json:"user_id"`
	CreativityProfile *storage.CreativityProfile `json:"creativity_profile"`
	ProjectOverview   *storage.ProjectOverview   `json:"project_overview"`
}

type skipRequest struct {
	Family string `json:"family"`
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/messages", handleMessage(deps))
		r.Get("/users/{id}/flow-state", handleFlowState(deps))
		r.Get("/users/{id}/summary", handleSummary(deps))
		r.Post("/users/{id}/skip", handleSkip(deps))
		r.Delete("/users/{id}", handleReset(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "storage_error", "storage unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req flow.MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		reply := deps.Flow.ProcessMessage(r.Context(), req)
		slog.Debug("message processed",
			"user_id", req.UserID,
			"stage", reply.Stage,
			"transitioned", reply.Transitioned,
			"replayed", reply.Replayed,
		)
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleFlowState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Flow.Resolve(r.Context(), chi.URLParam(r, "id")))
	}
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := loadSummary(r.Context(), deps.Store, chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "loading summary: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// loadSummary reads both result records concurrently. A missing record is
// left nil; any other error fails the whole summary.
func loadSummary(ctx context.Context, store UserStore, userID string) (UserSummary, error) {
	out := UserSummary{UserID: userID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := store.GetCreativityProfile(gctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.CreativityProfile = &p
		return nil
	})
	g.Go(func() error {
		o, err := store.GetProjectOverview(gctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.ProjectOverview = &o
		return nil
	})

	if err := g.Wait(); err != nil {
		return UserSummary{}, err
	}
	return out, nil
}

func handleSkip(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req skipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		stage, err := skippableStage(req.Family)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		msg, err := deps.Flow.Skip(r.Context(), chi.URLParam(r, "id"), stage)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "setting cooldown: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	}
}

// skippableStage accepts the family names ParseFamily knows ("planning",
// "project", "creativity", ...).
func skippableStage(family string) (flow.Stage, error) {
	f, err := progress.ParseFamily(family)
	if err != nil {
		return "", err
	}
	if f == progress.FamilyPlanning {
		return flow.StagePlanning, nil
	}
	return flow.StageAssessment, nil
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.ResetUser(r.Context(), id); err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "resetting user: %v", err)
			return
		}
		slog.Info("user reset", "user_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
