package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "postgres://localhost/logs?sslmode=disable")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "alert_results", cfg.ResultStream)
		assert.Equal(t, 60*time.Second, cfg.EvaluationInterval)
		assert.Equal(t, 30*time.Second, cfg.BackendTimeout)
		assert.Equal(t, float64(20), cfg.BackendQueryRate)
		assert.Equal(t, []string{"email", "password", "credit_card", "ssn"}, cfg.PIIRedactionFields)
		assert.Empty(t, cfg.RedisAddr)
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "postgres://localhost/logs")
		t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
		t.Setenv("EVALUATION_INTERVAL", "15s")
		t.Setenv("PII_REDACTION_FIELDS", "token,phone")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "redis://localhost:6379/0", cfg.RedisAddr)
		assert.Equal(t, 15*time.Second, cfg.EvaluationInterval)
		assert.Equal(t, []string{"token", "phone"}, cfg.PIIRedactionFields)
	})

	t.Run("Missing Postgres URL", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "")
		os.Unsetenv("POSTGRES_URL")

		_, err := Load()

		assert.Error(t, err)
	})

	t.Run("Invalid Interval", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "postgres://localhost/logs")
		t.Setenv("EVALUATION_INTERVAL", "0s")

		_, err := Load()

		assert.Error(t, err)
	})
}

func TestParseConditions(t *testing.T) {
	data := []byte(`
conditions:
  - id: failed-logins
    title: Failed logins per user
    stream_id: auth
    query: "login failed"
    parameters:
      time: 5
      grace: 10
      threshold: 4
      threshold_type: MORE
      backlog: 5
      grouping_fields: [user]
      distinction_fields: [ip]
  - title: Quiet stream
    type: aggregation-count
    stream_id: heartbeat
    parameters:
      time: 10
      threshold: 1.5
      threshold_type: LESS
`)

	defs, err := ParseConditions(data)

	require.NoError(t, err)
	require.Len(t, defs, 2)

	first := defs[0]
	assert.Equal(t, "failed-logins", first.ID)
	assert.Empty(t, first.Type, "type is defaulted by the condition factory")
	assert.Equal(t, "auth", first.StreamID)
	assert.Equal(t, 5, first.Parameters["time"])
	assert.Equal(t, "MORE", first.Parameters["threshold_type"])
	assert.Equal(t, []any{"user"}, first.Parameters["grouping_fields"])

	second := defs[1]
	assert.Empty(t, second.ID, "id is generated by the condition factory")
	assert.Equal(t, "aggregation-count", second.Type)
	assert.Equal(t, 1.5, second.Parameters["threshold"])
}

func TestParseConditions_Errors(t *testing.T) {
	t.Run("Unknown Key", func(t *testing.T) {
		_, err := ParseConditions([]byte("conditions:\n  - id: a\n    streem_id: typo\n"))
		assert.Error(t, err)
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		_, err := ParseConditions([]byte("conditions: [\n"))
		assert.Error(t, err)
	})

	t.Run("Empty File", func(t *testing.T) {
		defs, err := ParseConditions(nil)
		require.NoError(t, err)
		assert.Empty(t, defs)
	})
}

func TestLoadConditions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conditions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conditions:\n  - id: a\n    stream_id: s\n"), 0o644))

	defs, err := LoadConditions(path)

	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "a", defs[0].ID)
	assert.NotNil(t, defs[0].Parameters)

	_, err = LoadConditions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
