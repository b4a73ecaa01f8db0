package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	engine   *rules.Engine
	store    domain.HistoryStore
	cache    domain.Cache
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(p *pipeline.Pipeline, engine *rules.Engine, store domain.HistoryStore, cache domain.Cache, version string) *Handler {
	return &Handler{
		pipeline: p,
		engine:   engine,
		store:    store,
		cache:    cache,
		version:  version,
	}
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	ScoreID         string             `json:"score_id"`
	RuleBasedResult string             `json:"rule_based_result"`
	MLPrediction    string             `json:"ml_prediction"`
	TopFeatures     map[string]float64 `json:"top_features"`
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.pipeline.Score(ctx, &req)
	if err != nil {
		h.writeScoreError(w, r, err)
		return
	}

	result.Metadata.TraceID = GetTraceID(ctx)

	topFeatures := make(map[string]float64, len(result.TopFeatures))
	for _, a := range result.TopFeatures {
		topFeatures[a.Feature] = a.Magnitude
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		ScoreID:         result.ID,
		RuleBasedResult: result.RuleVerdict,
		MLPrediction:    result.ModelVerdict + domain.MLSuffix,
		TopFeatures:     topFeatures,
	})
}

// writeScoreError maps pipeline errors onto the three abort kinds:
// not-found, invalid-input, internal failure. Internal detail is logged
// server-side only.
func (h *Handler) writeScoreError(w http.ResponseWriter, r *http.Request, err error) {
	var unknown *domain.UnknownValueError
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "customer not found",
		})
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": unknown.Error(),
			"field": unknown.Field,
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("scoring failed",
			"path", r.URL.Path,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal scoring failure",
		})
	}
}

// GetScore retrieves a persisted score result by ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scoreID := chi.URLParam(r, "id")

	if scoreID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score id is required",
		})
		return
	}

	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "score store not available",
		})
		return
	}

	res, err := h.store.GetScore(ctx, scoreID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListRules returns the loaded heuristics in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	hs := h.engine.Heuristics()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": hs,
		"count": len(hs),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

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

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
