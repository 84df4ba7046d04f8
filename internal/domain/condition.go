package domain

import (
	"context"
	"strings"
	"time"
)

// ThresholdType is the comparison direction applied to an observed count.
type ThresholdType string

const (
	ThresholdMore ThresholdType = "MORE"
	ThresholdLess ThresholdType = "LESS"
)

// ParseThresholdType converts a configured value into a ThresholdType.
func ParseThresholdType(s string) (ThresholdType, error) {
	switch t := ThresholdType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ThresholdMore, ThresholdLess:
		return t, nil
	default:
		return "", &ConfigurationError{Key: ParamThresholdType, Reason: "must be one of MORE, LESS, got " + quote(s)}
	}
}

// Evaluate reports whether count crosses threshold. Both comparisons are strict.
func (t ThresholdType) Evaluate(count int64, threshold float64) bool {
	switch t {
	case ThresholdMore:
		return float64(count) > threshold
	case ThresholdLess:
		return float64(count) < threshold
	default:
		return false
	}
}

// GroupKey is the tuple of grouping-field values identifying a group.
// The empty key is the ungrouped sentinel.
type GroupKey []string

// UngroupedLabel is how the ungrouped key renders in logs and descriptions.
const UngroupedLabel = "(ungrouped)"

// IsUngrouped reports whether k is the ungrouped sentinel.
func (k GroupKey) IsUngrouped() bool { return len(k) == 0 }

func (k GroupKey) String() string {
	if k.IsUngrouped() {
		return UngroupedLabel
	}
	return strings.Join(k, TermKeySeparator)
}

// GroupResult is the observed count of one aggregation group.
type GroupResult struct {
	Key      GroupKey  `json:"key"`
	Count    int64     `json:"count"`
	Messages []Message `json:"messages,omitempty"`
}

// CheckResult is the outcome of one evaluation cycle.
//
// A triggered result always carries TriggeredAt and at least one group;
// a non-triggered result carries neither. Use the constructors.
type CheckResult struct {
	ConditionID      string        `json:"condition_id"`
	ConditionTitle   string        `json:"condition_title,omitempty"`
	StreamID         string        `json:"stream_id"`
	Triggered        bool          `json:"triggered"`
	TriggeredAt      *time.Time    `json:"triggered_at,omitempty"`
	TriggeringGroups []GroupResult `json:"triggering_groups,omitempty"`
	Description      string        `json:"description"`
}

// NewTriggeredResult builds a triggered result. groups must not be empty.
func NewTriggeredResult(info ConditionSummary, at time.Time, groups []GroupResult, description string) CheckResult {
	ts := at
	return CheckResult{
		ConditionID:      info.ID,
		ConditionTitle:   info.Title,
		StreamID:         info.StreamID,
		Triggered:        true,
		TriggeredAt:      &ts,
		TriggeringGroups: groups,
		Description:      description,
	}
}

// NewNotTriggeredResult builds a result for a cycle that did not trigger.
func NewNotTriggeredResult(info ConditionSummary, description string) CheckResult {
	return CheckResult{
		ConditionID:    info.ID,
		ConditionTitle: info.Title,
		StreamID:       info.StreamID,
		Description:    description,
	}
}

// ResultEnvelope wraps a triggered result handed to the notification subsystem.
type ResultEnvelope struct {
	ID          string      `json:"id"`
	PublishedAt time.Time   `json:"published_at"`
	Result      CheckResult `json:"result"`
}

// ConditionDefinition is a condition as stored in the host configuration.
type ConditionDefinition struct {
	ID         string         `yaml:"id" json:"id"`
	Title      string         `yaml:"title" json:"title"`
	Type       string         `yaml:"type" json:"type"`
	StreamID   string         `yaml:"stream_id" json:"stream_id"`
	Query      string         `yaml:"query" json:"query"`
	Parameters map[string]any `yaml:"parameters" json:"parameters"`
}

// ConditionSummary describes a constructed condition.
type ConditionSummary struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Type       string         `json:"type"`
	StreamID   string         `json:"stream_id"`
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters"`
}

// AlertCondition is one configured condition instance. Each instance owns its
// own grace state; RunCheck is safe to call repeatedly.
type AlertCondition interface {
	Summary() ConditionSummary
	RunCheck(ctx context.Context) (*CheckResult, error)
}
