package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdType_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		typ       ThresholdType
		count     int64
		threshold float64
		want      bool
	}{
		{"More Above", ThresholdMore, 5, 4, true},
		{"More Equal", ThresholdMore, 4, 4, false},
		{"More Fractional", ThresholdMore, 5, 4.5, true},
		{"Less Below", ThresholdLess, 3, 4, true},
		{"Less Equal", ThresholdLess, 4, 4, false},
		{"Less Zero Count", ThresholdLess, 0, 1, true},
		{"Unknown Never Triggers", ThresholdType("EQUAL"), 4, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.Evaluate(tt.count, tt.threshold))
		})
	}
}

func TestParseThresholdType(t *testing.T) {
	got, err := ParseThresholdType("less")
	require.NoError(t, err)
	assert.Equal(t, ThresholdLess, got)

	_, err = ParseThresholdType("")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ParamThresholdType, cfgErr.Key)
}

func TestResultConstructors(t *testing.T) {
	info := ConditionSummary{ID: "c1", Title: "t", StreamID: "s1"}
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	triggered := NewTriggeredResult(info, at, []GroupResult{{Count: 3}}, "hit")
	assert.True(t, triggered.Triggered)
	require.NotNil(t, triggered.TriggeredAt)
	assert.Equal(t, at, *triggered.TriggeredAt)
	assert.Len(t, triggered.TriggeringGroups, 1)

	quiet := NewNotTriggeredResult(info, "quiet")
	assert.False(t, quiet.Triggered)
	assert.Nil(t, quiet.TriggeredAt)
	assert.Empty(t, quiet.TriggeringGroups)
	assert.Equal(t, "c1", quiet.ConditionID)
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, UngroupedLabel, GroupKey(nil).String())
	assert.Equal(t, "alice - 10.0.0.1", GroupKey{"alice", "10.0.0.1"}.String())
}

func TestMessage_Field(t *testing.T) {
	m := Message{Source: "api", Message: "hello", Fields: map[string]any{"source": "ignored", "code": 500}}

	v, ok := m.Field("source")
	assert.True(t, ok)
	assert.Equal(t, "api", v)

	v, ok = m.Field("code")
	assert.True(t, ok)
	assert.Equal(t, "500", v)

	_, ok = m.Field("missing")
	assert.False(t, ok)
}

func TestStreamFilter(t *testing.T) {
	f := StreamFilter("abc")
	assert.Equal(t, "streams:abc", f)

	id, ok := ParseStreamFilter(f)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = ParseStreamFilter("source:abc")
	assert.False(t, ok)
}

func TestBackendError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&BackendError{Op: "terms", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "terms")
}
