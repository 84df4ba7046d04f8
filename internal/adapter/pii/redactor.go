package pii

import (
	"log/slog"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks sensitive fields of backlog messages before a result leaves the process.
type Redactor struct {
	fieldsToRedact map[string]struct{} // Use a map for O(1) lookups
	logger         *slog.Logger
}

// NewRedactor creates a new Redactor instance with a given set of fields to redact.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		fieldSet[field] = struct{}{}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger,
	}
}

// Redact replaces sensitive custom fields of msg in place, including inside nested
// objects. It reports whether anything was masked.
func (r *Redactor) Redact(msg *domain.Message) bool {
	if len(r.fieldsToRedact) == 0 || len(msg.Fields) == 0 {
		return false
	}
	return r.redactMap(msg.Fields)
}

func (r *Redactor) redactMap(m map[string]any) bool {
	redacted := false
	for k, v := range m {
		if _, ok := r.fieldsToRedact[k]; ok {
			m[k] = RedactedPlaceholder
			redacted = true
			continue
		}
		if r.redactValue(v) {
			redacted = true
		}
	}
	return redacted
}

func (r *Redactor) redactValue(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		return r.redactMap(val)
	case []any:
		redacted := false
		for _, item := range val {
			if r.redactValue(item) {
				redacted = true
			}
		}
		return redacted
	default:
		return false
	}
}

// RedactResult returns a copy of result whose backlog messages are redacted.
// The input is left untouched.
func (r *Redactor) RedactResult(result domain.CheckResult) domain.CheckResult {
	if len(result.TriggeringGroups) == 0 {
		return result
	}
	out := result
	out.TriggeringGroups = make([]domain.GroupResult, len(result.TriggeringGroups))
	count := 0
	for i, g := range result.TriggeringGroups {
		out.TriggeringGroups[i] = g
		if len(g.Messages) == 0 {
			continue
		}
		msgs := make([]domain.Message, len(g.Messages))
		for j, m := range g.Messages {
			m.Fields = copyFields(m.Fields)
			if r.Redact(&m) {
				count++
			}
			msgs[j] = m
		}
		out.TriggeringGroups[i].Messages = msgs
	}
	if count > 0 && r.logger != nil {
		r.logger.Debug("redacted sensitive fields from backlog", "condition_id", result.ConditionID, "messages", count)
	}
	return out
}

func copyFields(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
