package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Recognized keys of the inbound parameter mapping.
const (
	ParamGrace             = "grace"
	ParamTime              = "time"
	ParamThreshold         = "threshold"
	ParamThresholdType     = "threshold_type"
	ParamBacklog           = "backlog"
	ParamGroupingFields    = "grouping_fields"
	ParamDistinctionFields = "distinction_fields"
)

// MaxMinutes is the largest time or grace value that still fits in a time.Duration.
const MaxMinutes = math.MaxInt64 / int64(time.Minute)

// Parameters is the validated, immutable configuration of an aggregation condition.
type Parameters struct {
	TimeWindowMinutes int
	GraceMinutes      int
	ThresholdType     ThresholdType
	Threshold         float64
	BacklogSize       int
	GroupingFields    []string
	DistinctionFields []string
}

// ParseParameters validates a raw parameter mapping. Values decoded from JSON
// or YAML are accepted as long as integer keys hold integral numbers.
func ParseParameters(raw map[string]any) (Parameters, error) {
	var p Parameters
	var err error

	if p.TimeWindowMinutes, err = intParam(raw, ParamTime, true, 0); err != nil {
		return Parameters{}, err
	}
	if p.TimeWindowMinutes <= 0 {
		return Parameters{}, &ConfigurationError{Key: ParamTime, Reason: "must be greater than 0"}
	}
	if int64(p.TimeWindowMinutes) > MaxMinutes {
		return Parameters{}, &ConfigurationError{Key: ParamTime, Reason: fmt.Sprintf("must not exceed %d minutes", MaxMinutes)}
	}
	if p.GraceMinutes, err = intParam(raw, ParamGrace, false, 0); err != nil {
		return Parameters{}, err
	}
	if p.GraceMinutes < 0 {
		return Parameters{}, &ConfigurationError{Key: ParamGrace, Reason: "must not be negative"}
	}
	if int64(p.GraceMinutes) > MaxMinutes {
		return Parameters{}, &ConfigurationError{Key: ParamGrace, Reason: fmt.Sprintf("must not exceed %d minutes", MaxMinutes)}
	}
	if p.BacklogSize, err = intParam(raw, ParamBacklog, false, 0); err != nil {
		return Parameters{}, err
	}
	if p.BacklogSize < 0 {
		return Parameters{}, &ConfigurationError{Key: ParamBacklog, Reason: "must not be negative"}
	}

	v, ok := raw[ParamThreshold]
	if !ok || v == nil {
		return Parameters{}, &ConfigurationError{Key: ParamThreshold, Reason: "is required"}
	}
	if p.Threshold, ok = toFloat(v); !ok {
		return Parameters{}, &ConfigurationError{Key: ParamThreshold, Reason: fmt.Sprintf("must be a number, got %T", v)}
	}
	if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) {
		return Parameters{}, &ConfigurationError{Key: ParamThreshold, Reason: "must be finite"}
	}

	s, ok := raw[ParamThresholdType].(string)
	if !ok {
		return Parameters{}, &ConfigurationError{Key: ParamThresholdType, Reason: "is required and must be a string"}
	}
	if p.ThresholdType, err = ParseThresholdType(s); err != nil {
		return Parameters{}, err
	}

	if p.GroupingFields, err = stringList(raw, ParamGroupingFields); err != nil {
		return Parameters{}, err
	}
	if p.DistinctionFields, err = stringList(raw, ParamDistinctionFields); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Window returns the evaluation window [now - time, now).
func (p Parameters) Window(now time.Time) TimeRange {
	return TimeRange{
		From: now.Add(-time.Duration(p.TimeWindowMinutes) * time.Minute),
		To:   now,
	}
}

// UsesTerms reports whether evaluation needs a terms aggregation instead of a raw search.
func (p Parameters) UsesTerms() bool {
	return len(p.GroupingFields) > 0 || len(p.DistinctionFields) > 0
}

// TermsFields is the stacked field list sent to the terms aggregation:
// grouping fields first, then distinction fields.
func (p Parameters) TermsFields() []string {
	fields := make([]string, 0, len(p.GroupingFields)+len(p.DistinctionFields))
	fields = append(fields, p.GroupingFields...)
	return append(fields, p.DistinctionFields...)
}

// AsMap renders the parameters back into the inbound mapping shape.
func (p Parameters) AsMap() map[string]any {
	return map[string]any{
		ParamTime:              p.TimeWindowMinutes,
		ParamGrace:             p.GraceMinutes,
		ParamThreshold:         p.Threshold,
		ParamThresholdType:     string(p.ThresholdType),
		ParamBacklog:           p.BacklogSize,
		ParamGroupingFields:    append([]string{}, p.GroupingFields...),
		ParamDistinctionFields: append([]string{}, p.DistinctionFields...),
	}
}

func intParam(raw map[string]any, key string, required bool, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		if required {
			return 0, &ConfigurationError{Key: key, Reason: "is required"}
		}
		return def, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be an integer, got %v (%T)", v, v)}
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	default:
		return 0, false
	}
}

func integral(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		i, ok := toInt(v)
		return float64(i), ok
	}
}

func stringList(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	var items []string
	switch list := v.(type) {
	case []string:
		items = list
	case []any:
		items = make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &ConfigurationError{Key: key, Reason: fmt.Sprintf("element %d must be a string, got %T", i, item)}
			}
			items = append(items, s)
		}
	default:
		return nil, &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be a list of strings, got %T", v)}
	}

	fields := make([]string, 0, len(items))
	for _, f := range items {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
