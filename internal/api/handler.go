package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/manager"
	"github.com/behaviorsec/kestrel/internal/policy"
	"github.com/behaviorsec/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	manager *manager.Manager
	engine  *policy.Engine
	repo    domain.Repository
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(mgr *manager.Manager, engine *policy.Engine, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		manager: mgr,
		engine:  engine,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// KeystrokeBatchRequest is the request body for POST /behavior/keystrokes.
type KeystrokeBatchRequest struct {
	Events []domain.KeystrokeEvent `json:"events"`
}

// MouseBatchRequest is the request body for POST /behavior/mouse.
type MouseBatchRequest struct {
	Events []domain.PointerEvent `json:"events"`
}

// IngestKeystrokes handles POST /behavior/keystrokes.
func (h *Handler) IngestKeystrokes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var req KeystrokeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	h.countIngest(ctx, userID, "keystroke")

	result := h.manager.ProcessKeystrokes(ctx, userID, req.Events)
	writeJSON(w, http.StatusOK, result)
}

// IngestMouse handles POST /behavior/mouse.
func (h *Handler) IngestMouse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var req MouseBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	h.countIngest(ctx, userID, "mouse")

	result := h.manager.ProcessMouse(ctx, userID, req.Events)
	writeJSON(w, http.StatusOK, result)
}

// IngestDevice handles POST /behavior/device.
func (h *Handler) IngestDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var snap domain.DeviceSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	h.countIngest(ctx, userID, "device")

	result := h.manager.ProcessDevice(ctx, userID, snap)
	writeJSON(w, http.StatusOK, result)
}

// ScoreResponse is the response for GET /behavior/score.
type ScoreResponse struct {
	Assessment         *domain.SecurityAssessment `json:"assessment"`
	RecommendedActions []domain.PolicyDecision    `json:"recommendedActions,omitempty"`
	Version            string                     `json:"version"`
}

// GetScore handles GET /behavior/score. It returns the current security
// assessment plus the advisory decisions of any triggered access policies.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	assessment := h.manager.SecurityAssessment(ctx, userID)

	resp := ScoreResponse{
		Assessment: assessment,
		Version:    h.version,
	}
	if h.engine != nil {
		resp.RecommendedActions = h.engine.Evaluate(assessment)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetProfile handles GET /behavior/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	p := h.manager.Profile(userID)
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no behavioral profile for user",
		})
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListAnomalies handles GET /anomalies. The optional since query parameter
// is RFC 3339; the default window is the last 24 hours.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		since = parsed
	}

	anomalies, err := h.repo.ListAnomalies(ctx, userID, since)
	if err != nil {
		slog.Error("failed to list anomalies", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list anomalies",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListPolicies returns all loaded access policies from the engine.
// Policies are loaded from the database at startup and can be reloaded
// via POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]any{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a policy by ID from the loaded engine policies.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	for _, p := range h.engine.GetLoadedPolicies() {
		if p.ID == policyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating an access policy.
type CreatePolicyRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Expression  string              `json:"expression"`
	Action      domain.PolicyAction `json:"action"`
	Enabled     bool                `json:"enabled"`
}

// CreatePolicy creates a new access policy and saves it to the database.
// After saving, call POST /policies/reload to hot-reload into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	switch req.Action {
	case domain.ActionAllow, domain.ActionChallenge, domain.ActionBlock, domain.ActionAlert:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action must be one of: allow, challenge, block, alert",
		})
		return
	}

	cfg := &domain.PolicyConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Action:      req.Action,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression before persisting
	if err := h.engine.ValidatePolicy(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicy(ctx, cfg); err != nil {
			slog.Error("failed to save policy", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("policy created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  cfg,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// DeletePolicy disables a policy and auto-reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeletePolicy(ctx, policyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to delete policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete policy",
		})
		return
	}

	// Auto-reload after delete so the engine drops the policy immediately
	remaining, err := h.repo.ListPolicies(ctx)
	if err != nil {
		slog.Error("failed to reload policies after delete", "error", err)
	} else if err := h.engine.ReloadPolicies(remaining); err != nil {
		slog.Error("failed to reload policy engine after delete", "error", err)
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Policy deleted and engine reloaded.",
	})
}

// ReloadPolicies reloads all policies from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbPolicies, err := h.repo.ListPolicies(ctx)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.engine.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(dbPolicies))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "policies reloaded successfully",
		"count":   len(dbPolicies),
	})
}

// countIngest tracks per-user ingest rates in the cache. Best effort.
func (h *Handler) countIngest(ctx context.Context, userID, channel string) {
	if h.cache == nil {
		return
	}
	if _, err := h.cache.IncrementCounter(ctx, userID, "ingest:"+channel, time.Minute); err != nil {
		slog.Debug("failed to count ingest", "user_id", userID, "channel", channel, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
