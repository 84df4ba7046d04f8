package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/aggregation-count/internal/adapter/api/handler"
	"github.com/V4T54L/aggregation-count/internal/adapter/api/middleware"
)

// NewRouter creates the admin HTTP router for the evaluator service.
// gatherer may be nil to leave out /metrics.
func NewRouter(runner handler.ConditionRunner, publisher handler.StatusReporter, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	conditionHandler := handler.NewConditionHandler(runner, publisher, logger)

	mux.HandleFunc("GET /health", conditionHandler.HealthCheck)

	// Conditions
	mux.HandleFunc("GET /conditions", conditionHandler.ListConditions)
	mux.HandleFunc("GET /conditions/{id}", conditionHandler.GetCondition)
	mux.HandleFunc("POST /conditions/{id}/check", conditionHandler.CheckCondition)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return middleware.Logging(logger)(mux)
}
