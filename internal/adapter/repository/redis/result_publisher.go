package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/aggregation-count/internal/adapter/metrics"
	"github.com/V4T54L/aggregation-count/internal/domain"
)

const defaultResultStream = "alert_results"

// ResultPublisher implements domain.ResultPublisher on a Redis Stream.
// While Redis is unreachable results are spooled locally and replayed on recovery.
type ResultPublisher struct {
	client      redis.UniversalClient
	logger      *slog.Logger
	spool       domain.SpoolRepository
	streamKey   string
	metrics     *metrics.EvaluatorMetrics
	isAvailable atomic.Bool
	now         func() time.Time
}

// NewResultPublisher creates a Redis-backed publisher. The spool and metrics are optional.
func NewResultPublisher(client redis.UniversalClient, streamKey string, spool domain.SpoolRepository, logger *slog.Logger, m *metrics.EvaluatorMetrics) *ResultPublisher {
	if streamKey == "" {
		streamKey = defaultResultStream
	}
	p := &ResultPublisher{
		client:    client,
		logger:    logger.With("component", "redis_result_publisher", "stream", streamKey),
		spool:     spool,
		streamKey: streamKey,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
	p.isAvailable.Store(true) // Assume available initially
	return p
}

// Publish appends a triggered result to the stream, falling back to the spool
// if Redis is unavailable.
func (p *ResultPublisher) Publish(ctx context.Context, result domain.CheckResult) error {
	if !result.Triggered {
		return nil
	}
	envelope := domain.ResultEnvelope{
		ID:          uuid.NewString(),
		PublishedAt: p.now(),
		Result:      result,
	}

	if !p.isAvailable.Load() {
		return p.spoolEnvelope(ctx, envelope, nil)
	}

	err := p.xadd(ctx, envelope)
	if err == nil {
		return nil
	}
	if !isNetworkError(err) {
		return err
	}
	if p.isAvailable.CompareAndSwap(true, false) {
		p.logger.Error("Redis connection lost during publish", "error", err)
		p.setSpooling(true)
	}
	return p.spoolEnvelope(ctx, envelope, err)
}

func (p *ResultPublisher) spoolEnvelope(ctx context.Context, envelope domain.ResultEnvelope, cause error) error {
	if p.spool == nil {
		if cause != nil {
			return fmt.Errorf("redis became unavailable and spool is not configured: %w", cause)
		}
		return errors.New("redis is unavailable and spool is not configured")
	}
	p.logger.Warn("Redis is unavailable, spooling result", "envelope_id", envelope.ID, "condition_id", envelope.Result.ConditionID)
	if err := p.spool.Write(ctx, envelope); err != nil {
		return fmt.Errorf("failed to spool result: %w", err)
	}
	return nil
}

func (p *ResultPublisher) xadd(ctx context.Context, envelope domain.ResultEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal result envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.streamKey,
		Values: map[string]interface{}{
			"payload":      payload,
			"envelope_id":  envelope.ID,
			"condition_id": envelope.Result.ConditionID,
		},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// StartHealthCheck monitors Redis connectivity and replays the spool when it recovers.
// It blocks until ctx is cancelled.
func (p *ResultPublisher) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if p.spool == nil {
		p.logger.Info("Spool is not configured, skipping health check/replayer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("Starting Redis health check and spool replayer")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			p.checkHealth(ctx)
		}
	}
}

func (p *ResultPublisher) checkHealth(ctx context.Context) {
	if err := p.client.Ping(ctx).Err(); err != nil {
		if p.isAvailable.CompareAndSwap(true, false) {
			p.logger.Error("Redis connection lost", "error", err)
			p.setSpooling(true)
		}
		return
	}
	if p.isAvailable.CompareAndSwap(false, true) {
		p.logger.Info("Redis connection recovered")
		if err := p.ReplaySpool(ctx); err != nil {
			p.logger.Error("Failed to replay spool after Redis recovery", "error", err)
			p.isAvailable.Store(false)
			return
		}
		p.setSpooling(false)
	}
}

// ReplaySpool re-publishes spooled envelopes and truncates the spool on success.
// Envelope IDs are preserved so consumers can deduplicate a partially replayed spool.
func (p *ResultPublisher) ReplaySpool(ctx context.Context) error {
	if p.spool == nil {
		return nil
	}
	p.logger.Info("Attempting to replay spool to Redis")
	if err := p.spool.ReplayAndTruncate(ctx, func(envelope domain.ResultEnvelope) error {
		return p.xadd(ctx, envelope)
	}); err != nil {
		return fmt.Errorf("spool replay failed: %w", err)
	}
	p.logger.Info("Spool replay to Redis completed successfully")
	return nil
}

// Status reports availability and the current stream length.
func (p *ResultPublisher) Status(ctx context.Context) domain.PublisherStatus {
	status := domain.PublisherStatus{
		Transport: "redis",
		Available: p.isAvailable.Load(),
		Spooling:  !p.isAvailable.Load() && p.spool != nil,
	}
	if status.Available {
		n, err := p.client.XLen(ctx, p.streamKey).Result()
		if err != nil {
			p.logger.Warn("Failed to read result stream length", "error", err)
		} else {
			status.StreamLength = n
		}
	}
	return status
}

func (p *ResultPublisher) setSpooling(active bool) {
	if p.metrics == nil {
		return
	}
	if active {
		p.metrics.SpoolActive.Set(1)
	} else {
		p.metrics.SpoolActive.Set(0)
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
