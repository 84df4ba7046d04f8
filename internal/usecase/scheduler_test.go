package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/V4T54L/aggregation-count/internal/adapter/metrics"
	"github.com/V4T54L/aggregation-count/internal/adapter/pii"
	"github.com/V4T54L/aggregation-count/internal/domain"
	"github.com/V4T54L/aggregation-count/internal/domain/mocks"
)

func newTestCondition(t *testing.T, id string, backend domain.SearchBackend) domain.AlertCondition {
	t.Helper()
	def := definition(baseParams(map[string]any{"backlog": 1}))
	def.ID = id
	cond, err := NewAggregationCount(def, backend, ConditionOptions{Clock: mocks.NewFakeClock(testNow)})
	require.NoError(t, err)
	return cond
}

func TestScheduler_CheckNow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sensitive := []domain.Message{{ID: "m1", Fields: map[string]any{"email": "a@example.com"}}}

	t.Run("Triggered Result Is Redacted And Published", func(t *testing.T) {
		backend := &mocks.FakeSearchBackend{SearchResult: &domain.SearchResult{Total: 10, Messages: sensitive}}
		publisher := &mocks.MockResultPublisher{}
		m := metrics.NewEvaluatorMetrics(prometheus.NewRegistry())
		redactor := pii.NewRedactor([]string{"email"}, logger)
		s, err := NewScheduler([]domain.AlertCondition{newTestCondition(t, "c1", backend)}, publisher, redactor, nil, time.Minute, logger, m)
		require.NoError(t, err)

		res, err := s.CheckNow(context.Background(), "c1")

		require.NoError(t, err)
		require.True(t, res.Triggered)
		assert.Equal(t, "a@example.com", res.TriggeringGroups[0].Messages[0].Fields["email"])
		published := publisher.Results()
		require.Len(t, published, 1)
		assert.Equal(t, pii.RedactedPlaceholder, published[0].TriggeringGroups[0].Messages[0].Fields["email"])
		assert.Equal(t, float64(1), testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("c1", metrics.StatusTriggered)))
	})

	t.Run("Not Triggered Is Not Published", func(t *testing.T) {
		backend := mocks.WithMessages(domain.Message{ID: "m1"})
		publisher := &mocks.MockResultPublisher{}
		s, _ := NewScheduler([]domain.AlertCondition{newTestCondition(t, "c1", backend)}, publisher, nil, nil, time.Minute, logger, nil)

		res, err := s.CheckNow(context.Background(), "c1")

		require.NoError(t, err)
		assert.False(t, res.Triggered)
		assert.Empty(t, publisher.Results())
	})

	t.Run("Backend Failure Is A Failed Cycle", func(t *testing.T) {
		backend := &mocks.FakeSearchBackend{SearchErr: errors.New("connection refused")}
		publisher := &mocks.MockResultPublisher{}
		m := metrics.NewEvaluatorMetrics(prometheus.NewRegistry())
		s, _ := NewScheduler([]domain.AlertCondition{newTestCondition(t, "c1", backend)}, publisher, nil, nil, time.Minute, logger, m)

		res, err := s.CheckNow(context.Background(), "c1")

		var backendErr *domain.BackendError
		require.ErrorAs(t, err, &backendErr)
		assert.Nil(t, res)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("c1", metrics.StatusFailed)))
	})

	t.Run("Publish Failure Still Returns Result", func(t *testing.T) {
		backend := mocks.WithMessages(messages(10)...)
		publisher := &mocks.MockResultPublisher{PublishErr: errors.New("redis down")}
		m := metrics.NewEvaluatorMetrics(prometheus.NewRegistry())
		s, _ := NewScheduler([]domain.AlertCondition{newTestCondition(t, "c1", backend)}, publisher, nil, nil, time.Minute, logger, m)

		res, err := s.CheckNow(context.Background(), "c1")

		require.NoError(t, err)
		assert.True(t, res.Triggered)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishFailuresTotal))
	})

	t.Run("Unknown Condition", func(t *testing.T) {
		s, _ := NewScheduler(nil, &mocks.MockResultPublisher{}, nil, nil, time.Minute, logger, nil)

		_, err := s.CheckNow(context.Background(), "missing")

		assert.ErrorIs(t, err, domain.ErrConditionNotFound)
	})

	t.Run("Limiter Honours Cancellation", func(t *testing.T) {
		backend := mocks.WithMessages()
		limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
		limiter.Allow() // drain the only token
		s, _ := NewScheduler([]domain.AlertCondition{newTestCondition(t, "c1", backend)}, &mocks.MockResultPublisher{}, nil, limiter, time.Minute, logger, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := s.CheckNow(ctx, "c1")

		require.Error(t, err)
		search, _ := backend.Calls()
		assert.Zero(t, search)
	})
}

func TestScheduler_Registry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := mocks.WithMessages()

	t.Run("Duplicate IDs Rejected", func(t *testing.T) {
		conds := []domain.AlertCondition{newTestCondition(t, "dup", backend), newTestCondition(t, "dup", backend)}
		_, err := NewScheduler(conds, &mocks.MockResultPublisher{}, nil, nil, time.Minute, logger, nil)
		assert.Error(t, err)
	})

	t.Run("Nil Publisher Rejected", func(t *testing.T) {
		_, err := NewScheduler(nil, nil, nil, nil, time.Minute, logger, nil)
		assert.Error(t, err)
	})

	t.Run("Lookup In Configuration Order", func(t *testing.T) {
		conds := []domain.AlertCondition{newTestCondition(t, "b", backend), newTestCondition(t, "a", backend)}
		s, err := NewScheduler(conds, &mocks.MockResultPublisher{}, nil, nil, time.Minute, logger, nil)
		require.NoError(t, err)

		list := s.Conditions()
		require.Len(t, list, 2)
		assert.Equal(t, "b", list[0].ID)
		assert.Equal(t, "a", list[1].ID)
		_, err = s.Condition("a")
		assert.NoError(t, err)
		_, err = s.Condition("zzz")
		assert.ErrorIs(t, err, domain.ErrConditionNotFound)
	})
}

func TestScheduler_Run(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := mocks.WithMessages(messages(10)...)
	publisher := &mocks.MockResultPublisher{}
	cond := newTestCondition(t, "c1", backend)
	s, err := NewScheduler([]domain.AlertCondition{cond}, publisher, nil, nil, 5*time.Millisecond, logger, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if search, _ := backend.Calls(); search >= 2 {
			break
		}
		select {
		case <-deadline:
			cancel()
			require.FailNow(t, "timed out waiting for scheduled evaluations")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "scheduler did not stop after cancellation")
	}
	assert.NotEmpty(t, publisher.Results())
}
