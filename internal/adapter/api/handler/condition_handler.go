package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// ConditionRunner exposes the scheduled conditions.
type ConditionRunner interface {
	Conditions() []domain.ConditionSummary
	Condition(id string) (domain.ConditionSummary, error)
	CheckNow(ctx context.Context, id string) (*domain.CheckResult, error)
}

// StatusReporter reports the state of the result transport.
type StatusReporter interface {
	Status(ctx context.Context) domain.PublisherStatus
}

// ConditionHandler handles HTTP requests for alert condition administration.
type ConditionHandler struct {
	runner    ConditionRunner
	publisher StatusReporter
	logger    *slog.Logger
}

// NewConditionHandler creates a new ConditionHandler. publisher may be nil.
func NewConditionHandler(runner ConditionRunner, publisher StatusReporter, logger *slog.Logger) *ConditionHandler {
	return &ConditionHandler{runner: runner, publisher: publisher, logger: logger}
}

// HealthCheck reports liveness and the publisher state.
// GET /health
func (h *ConditionHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"conditions": len(h.runner.Conditions()),
	}
	if h.publisher != nil {
		status := h.publisher.Status(r.Context())
		body["publisher"] = status
		if !status.Available {
			body["status"] = "degraded"
		}
	}
	h.respondWithJSON(w, http.StatusOK, body)
}

// ListConditions handles requests to list every condition.
// GET /conditions
func (h *ConditionHandler) ListConditions(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.runner.Conditions())
}

// GetCondition handles requests to describe one condition.
// GET /conditions/{id}
func (h *ConditionHandler) GetCondition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := h.runner.Condition(id)
	if err != nil {
		h.respondWithError(w, id, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, summary)
}

// CheckCondition runs one evaluation now and returns its result.
// POST /conditions/{id}/check
func (h *ConditionHandler) CheckCondition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.runner.CheckNow(r.Context(), id)
	if err != nil {
		h.respondWithError(w, id, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *ConditionHandler) respondWithError(w http.ResponseWriter, id string, err error) {
	var backendErr *domain.BackendError
	switch {
	case errors.Is(err, domain.ErrConditionNotFound):
		h.respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "condition not found"})
	case errors.As(err, &backendErr):
		h.logger.Error("condition check failed", "condition_id", id, "error", err)
		h.respondWithJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request cancelled"})
	default:
		h.logger.Error("condition request failed", "condition_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *ConditionHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
