package notifier

import (
	"context"
	"log/slog"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// LogNotifier is a domain.ResultPublisher that writes triggered results to the
// structured log. It is used when no Redis stream is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

// Publish logs the alert details.
func (n *LogNotifier) Publish(ctx context.Context, result domain.CheckResult) error {
	if !result.Triggered {
		return nil
	}
	groups := make([]slog.Attr, 0, len(result.TriggeringGroups))
	for _, g := range result.TriggeringGroups {
		groups = append(groups, slog.Int64(g.Key.String(), g.Count))
	}
	n.logger.LogAttrs(ctx, slog.LevelWarn, "ALERT TRIGGERED",
		slog.String("condition_id", result.ConditionID),
		slog.String("condition_title", result.ConditionTitle),
		slog.String("stream_id", result.StreamID),
		slog.Time("triggered_at", *result.TriggeredAt),
		slog.Any("groups", slog.GroupValue(groups...)),
		slog.String("description", result.Description),
	)
	return nil
}

// Status reports the log transport, which is always available.
func (n *LogNotifier) Status(ctx context.Context) domain.PublisherStatus {
	return domain.PublisherStatus{Transport: "log", Available: true}
}
