package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/aggregation-count/internal/adapter/metrics"
	"github.com/V4T54L/aggregation-count/internal/domain"
)

const (
	// AggregationCountType is the condition type name used in definitions.
	AggregationCountType = "aggregation-count"

	// SearchLimit is the default number of buckets requested from a terms aggregation.
	SearchLimit = 500

	// MaxSearchLimit bounds the bucket count when a MORE threshold needs more than SearchLimit.
	MaxSearchLimit = 100_000

	defaultQuery = "*"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ConditionOptions are the collaborators shared by every condition type.
type ConditionOptions struct {
	Clock          Clock
	BackendTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.EvaluatorMetrics
}

// AggregationCount counts matching events, or distinct field values, per group
// over a rolling window and triggers when a group crosses the threshold.
type AggregationCount struct {
	id       string
	title    string
	streamID string
	query    string
	params   domain.Parameters

	backend domain.SearchBackend
	grace   *GraceTracker
	clock   Clock
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.EvaluatorMetrics
}

// NewAggregationCount validates the definition and builds a condition instance
// with its own grace state.
func NewAggregationCount(def domain.ConditionDefinition, backend domain.SearchBackend, opts ConditionOptions) (*AggregationCount, error) {
	if backend == nil {
		return nil, errors.New("aggregation count: nil search backend")
	}
	if def.ID == "" {
		return nil, &domain.ConfigurationError{Key: "id", Reason: "is required"}
	}
	if def.StreamID == "" {
		return nil, &domain.ConfigurationError{Key: "stream_id", Reason: "is required"}
	}
	params, err := domain.ParseParameters(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", def.ID, err)
	}

	query := strings.TrimSpace(def.Query)
	if query == "" {
		query = defaultQuery
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &AggregationCount{
		id:       def.ID,
		title:    def.Title,
		streamID: def.StreamID,
		query:    query,
		params:   params,
		backend:  backend,
		grace:    NewGraceTracker(params.GraceMinutes),
		clock:    clock,
		timeout:  opts.BackendTimeout,
		logger:   logger.With("component", "aggregation_count", "condition_id", def.ID),
		metrics:  opts.Metrics,
	}, nil
}

// Summary describes the condition.
func (c *AggregationCount) Summary() domain.ConditionSummary {
	return domain.ConditionSummary{
		ID:         c.id,
		Title:      c.title,
		Type:       AggregationCountType,
		StreamID:   c.streamID,
		Query:      c.query,
		Parameters: c.params.AsMap(),
	}
}

// Parameters returns the validated configuration.
func (c *AggregationCount) Parameters() domain.Parameters { return c.params }

// RunCheck runs one evaluation cycle. A backend failure or timeout is returned
// as an error and never reported as a non-triggered result.
func (c *AggregationCount) RunCheck(ctx context.Context) (*domain.CheckResult, error) {
	now := c.clock.Now()
	window := c.params.Window(now)

	var groups []domain.GroupResult
	var err error
	if c.params.UsesTerms() {
		groups, err = c.runTerms(ctx, window)
	} else {
		groups, err = c.runSearch(ctx, window)
	}
	if err != nil {
		return nil, err
	}

	matched := make([]domain.GroupResult, 0, len(groups))
	for _, g := range groups {
		if c.params.ThresholdType.Evaluate(g.Count, c.params.Threshold) {
			matched = append(matched, g)
		}
	}
	SortGroups(matched)

	info := c.Summary()
	if len(matched) == 0 {
		result := domain.NewNotTriggeredResult(info, c.describe(0))
		return &result, nil
	}

	if c.grace.ShouldSuppress(now) {
		return c.suppressed(info, len(matched)), nil
	}

	if c.params.UsesTerms() && c.params.BacklogSize > 0 {
		if err := c.attachBacklog(ctx, window, matched); err != nil {
			return nil, err
		}
	}

	if !c.grace.TryTrigger(now) {
		return c.suppressed(info, len(matched)), nil
	}

	c.logger.Info("alert condition triggered", "groups", len(matched), "window_minutes", c.params.TimeWindowMinutes)
	result := domain.NewTriggeredResult(info, now, matched, c.describe(len(matched)))
	return &result, nil
}

func (c *AggregationCount) runSearch(ctx context.Context, window domain.TimeRange) ([]domain.GroupResult, error) {
	req := domain.SearchRequest{
		Query:  c.query,
		Filter: domain.StreamFilter(c.streamID),
		Range:  window,
		Offset: 0,
		Limit:  c.params.BacklogSize,
		Sort:   domain.SortDescending,
	}
	res, err := c.search(ctx, req)
	if err != nil {
		return nil, err
	}
	return ReduceSearch(res, c.params.BacklogSize), nil
}

func (c *AggregationCount) runTerms(ctx context.Context, window domain.TimeRange) ([]domain.GroupResult, error) {
	req := domain.TermsRequest{
		Fields:    c.params.TermsFields(),
		Size:      c.termsSize(),
		Query:     c.query,
		Filter:    domain.StreamFilter(c.streamID),
		Range:     window,
		Direction: domain.SortDescending,
	}

	qctx, cancel := c.withTimeout(ctx)
	defer cancel()
	started := time.Now()
	res, err := c.backend.Terms(qctx, req)
	c.metrics.ObserveQuery("terms", started)
	if err != nil {
		return nil, &domain.BackendError{Op: "terms", Err: err}
	}

	buckets := len(termsOf(res))
	c.logger.Debug("terms aggregation returned", "buckets", buckets)
	if buckets >= req.Size {
		c.logger.Warn("terms aggregation hit the bucket limit, counts may be low", "limit", req.Size)
	}
	return ReduceTerms(res, c.params.GroupingFields, c.params.DistinctionFields), nil
}

// termsSize requests enough buckets for a MORE threshold to be reachable,
// within MaxSearchLimit.
func (c *AggregationCount) termsSize() int {
	if c.params.ThresholdType != domain.ThresholdMore || c.params.Threshold < SearchLimit {
		return SearchLimit
	}
	if c.params.Threshold >= MaxSearchLimit-1 {
		return MaxSearchLimit
	}
	return int(math.Floor(c.params.Threshold)) + 1
}

// attachBacklog fetches up to BacklogSize messages for every matched group,
// restricting the search to the group's field values.
func (c *AggregationCount) attachBacklog(ctx context.Context, window domain.TimeRange, groups []domain.GroupResult) error {
	for i := range groups {
		req := domain.SearchRequest{
			Query:  c.query,
			Filter: domain.StreamFilter(c.streamID),
			Range:  window,
			Limit:  c.params.BacklogSize,
			Sort:   domain.SortDescending,
		}
		if !groups[i].Key.IsUngrouped() {
			req.Fields = make(map[string]string, len(c.params.GroupingFields))
			for j, field := range c.params.GroupingFields {
				req.Fields[field] = groups[i].Key[j]
			}
		}
		res, err := c.search(ctx, req)
		if err != nil {
			return err
		}
		groups[i].Messages = firstMessages(res.Messages, c.params.BacklogSize)
	}
	return nil
}

func (c *AggregationCount) search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	qctx, cancel := c.withTimeout(ctx)
	defer cancel()
	started := time.Now()
	res, err := c.backend.Search(qctx, req)
	c.metrics.ObserveQuery("search", started)
	if err != nil {
		return nil, &domain.BackendError{Op: "search", Err: err}
	}
	if res == nil {
		res = &domain.SearchResult{}
	}
	return res, nil
}

func (c *AggregationCount) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *AggregationCount) suppressed(info domain.ConditionSummary, matchedGroups int) *domain.CheckResult {
	last, _ := c.grace.LastTriggeredAt()
	c.logger.Info("alert condition suppressed by grace period", "last_triggered_at", last, "grace_minutes", c.params.GraceMinutes)
	c.metrics.IncSuppressed()
	desc := fmt.Sprintf("%s Suppressed: last alert at %s is within the grace period of %d minutes.",
		c.describe(matchedGroups), last.Format(time.RFC3339), c.params.GraceMinutes)
	result := domain.NewNotTriggeredResult(info, desc)
	return &result
}

func (c *AggregationCount) describe(matchedGroups int) string {
	direction := "more"
	if c.params.ThresholdType == domain.ThresholdLess {
		direction = "less"
	}
	unit := "messages"
	if len(c.params.DistinctionFields) > 0 {
		unit = "distinct values of [" + strings.Join(c.params.DistinctionFields, ", ") + "]"
	}
	condition := fmt.Sprintf("%s than %s %s in the last %d minutes",
		direction, strconv.FormatFloat(c.params.Threshold, 'f', -1, 64), unit, c.params.TimeWindowMinutes)

	var outcome string
	switch {
	case matchedGroups == 0:
		outcome = "did not have " + condition
	case len(c.params.GroupingFields) == 0:
		outcome = "had " + condition
	default:
		outcome = fmt.Sprintf("had %d group(s) of [%s] with %s",
			matchedGroups, strings.Join(c.params.GroupingFields, ", "), condition)
	}
	return fmt.Sprintf("Stream %s %s. (Current grace time: %d minutes)", c.streamID, outcome, c.params.GraceMinutes)
}

func termsOf(res *domain.TermsResult) map[string]int64 {
	if res == nil {
		return nil
	}
	return res.Terms
}
