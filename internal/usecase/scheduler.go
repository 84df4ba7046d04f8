package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/V4T54L/aggregation-count/internal/adapter/metrics"
	"github.com/V4T54L/aggregation-count/internal/adapter/pii"
	"github.com/V4T54L/aggregation-count/internal/domain"
)

const defaultInterval = 60 * time.Second

// Scheduler periodically evaluates every condition and publishes triggered results.
// Each condition runs on its own goroutine; checks of one condition never overlap.
type Scheduler struct {
	jobs      map[string]*job
	order     []string
	publisher domain.ResultPublisher
	redactor  *pii.Redactor
	limiter   *rate.Limiter
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.EvaluatorMetrics
	wg        sync.WaitGroup
}

type job struct {
	mu   sync.Mutex
	cond domain.AlertCondition
}

// NewScheduler creates a scheduler. limiter, redactor and m may be nil.
func NewScheduler(conditions []domain.AlertCondition, publisher domain.ResultPublisher, redactor *pii.Redactor, limiter *rate.Limiter, interval time.Duration, logger *slog.Logger, m *metrics.EvaluatorMetrics) (*Scheduler, error) {
	if publisher == nil {
		return nil, errors.New("scheduler: nil result publisher")
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &Scheduler{
		jobs:      make(map[string]*job, len(conditions)),
		publisher: publisher,
		redactor:  redactor,
		limiter:   limiter,
		interval:  interval,
		logger:    logger.With("component", "scheduler"),
		metrics:   m,
	}
	for _, cond := range conditions {
		id := cond.Summary().ID
		if _, dup := s.jobs[id]; dup {
			return nil, fmt.Errorf("scheduler: duplicate condition id %q", id)
		}
		s.jobs[id] = &job{cond: cond}
		s.order = append(s.order, id)
	}
	return s, nil
}

// Run starts one evaluation loop per condition and blocks until ctx is cancelled
// and every loop has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "conditions", len(s.order), "interval", s.interval.String())
	for _, id := range s.order {
		s.wg.Add(1)
		go s.loop(ctx, s.jobs[id])
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Errors are logged and counted in check; the next tick retries.
			_, _ = s.check(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow evaluates one condition immediately, serialised with its scheduled checks.
func (s *Scheduler) CheckNow(ctx context.Context, id string) (*domain.CheckResult, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrConditionNotFound
	}
	return s.check(ctx, j)
}

// Conditions lists the scheduled conditions in configuration order.
func (s *Scheduler) Conditions() []domain.ConditionSummary {
	out := make([]domain.ConditionSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].cond.Summary())
	}
	return out
}

// Condition returns one scheduled condition.
func (s *Scheduler) Condition(id string) (domain.ConditionSummary, error) {
	j, ok := s.jobs[id]
	if !ok {
		return domain.ConditionSummary{}, domain.ErrConditionNotFound
	}
	return j.cond.Summary(), nil
}

func (s *Scheduler) check(ctx context.Context, j *job) (*domain.CheckResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.cond.Summary().ID
	logger := s.logger.With("condition_id", id)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for backend rate limiter: %w", err)
		}
	}

	result, err := j.cond.RunCheck(ctx)
	if err != nil {
		logger.Error("evaluation failed", "error", err)
		s.metrics.IncEvaluation(id, metrics.StatusFailed)
		return nil, err
	}
	if !result.Triggered {
		logger.Debug("condition not triggered", "description", result.Description)
		s.metrics.IncEvaluation(id, metrics.StatusNotTriggered)
		return result, nil
	}
	s.metrics.IncEvaluation(id, metrics.StatusTriggered)

	published := *result
	if s.redactor != nil {
		published = s.redactor.RedactResult(*result)
	}
	if err := s.publisher.Publish(ctx, published); err != nil {
		// The evaluation itself succeeded; delivery is retried by the publisher's spool.
		logger.Error("failed to publish triggered result", "error", err)
		if s.metrics != nil {
			s.metrics.PublishFailuresTotal.Inc()
		}
	}
	return result, nil
}
