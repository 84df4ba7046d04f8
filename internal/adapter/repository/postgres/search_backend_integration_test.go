//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/aggregation-count/internal/adapter/repository/postgres"
	"github.com/V4T54L/aggregation-count/internal/domain"
	"github.com/V4T54L/aggregation-count/internal/domain/mocks"
	"github.com/V4T54L/aggregation-count/internal/usecase"
)

// Run with: TEST_POSTGRES_URL=postgres://... go test -tags integration ./internal/adapter/repository/postgres/
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, postgres.EnsureSchema(ctx, db))
	return db
}

func seed(t *testing.T, db *sql.DB, stream string, now time.Time, fields ...map[string]any) {
	t.Helper()
	msgs := make([]domain.Message, len(fields))
	for i, f := range fields {
		msgs[i] = domain.Message{
			ID:        uuid.NewString(),
			Timestamp: now.Add(-time.Duration(i+1) * time.Second),
			Source:    stream,
			Level:     "warn",
			Message:   "login failed",
			Fields:    f,
		}
	}
	writer := postgres.NewEventWriter(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, writer.WriteBatch(context.Background(), msgs))
}

func TestSearchBackend_EndToEnd(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := postgres.NewSearchBackend(db, logger)
	stream := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	seed(t, db, stream, now,
		map[string]any{"user": "alice", "ip": "10.0.0.1"},
		map[string]any{"user": "alice", "ip": "10.0.0.2"},
		map[string]any{"user": "alice", "ip": "10.0.0.2"},
		map[string]any{"user": "bob", "ip": "10.0.0.1"},
	)

	t.Run("Raw Search", func(t *testing.T) {
		res, err := backend.Search(context.Background(), domain.SearchRequest{
			Query:  "login",
			Filter: domain.StreamFilter(stream),
			Range:  domain.TimeRange{From: now.Add(-time.Minute), To: now},
			Limit:  2,
			Sort:   domain.SortDescending,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(4), res.Total)
		require.Len(t, res.Messages, 2)
		assert.True(t, res.Messages[0].Timestamp.After(res.Messages[1].Timestamp))
		assert.Equal(t, "alice", res.Messages[0].Fields["user"])
	})

	t.Run("Terms", func(t *testing.T) {
		res, err := backend.Terms(context.Background(), domain.TermsRequest{
			Fields: []string{"user", "ip"},
			Size:   usecase.SearchLimit,
			Query:  "*",
			Filter: domain.StreamFilter(stream),
			Range:  domain.TimeRange{From: now.Add(-time.Minute), To: now},
		})

		require.NoError(t, err)
		assert.Equal(t, map[string]int64{
			"alice - 10.0.0.1": 1,
			"alice - 10.0.0.2": 2,
			"bob - 10.0.0.1":   1,
		}, res.Terms)
	})

	t.Run("Distinct IPs Per User Triggers", func(t *testing.T) {
		cond, err := usecase.NewAggregationCount(domain.ConditionDefinition{
			ID:       "it-distinct",
			StreamID: stream,
			Parameters: map[string]any{
				"time":               1,
				"threshold":          1,
				"threshold_type":     "MORE",
				"backlog":            2,
				"grouping_fields":    []string{"user"},
				"distinction_fields": []string{"ip"},
			},
		}, backend, usecase.ConditionOptions{Clock: mocks.NewFakeClock(now), Logger: logger})
		require.NoError(t, err)

		res, err := cond.RunCheck(context.Background())

		require.NoError(t, err)
		require.True(t, res.Triggered)
		require.Len(t, res.TriggeringGroups, 1)
		assert.Equal(t, domain.GroupKey{"alice"}, res.TriggeringGroups[0].Key)
		assert.Equal(t, int64(2), res.TriggeringGroups[0].Count)
		assert.Len(t, res.TriggeringGroups[0].Messages, 2)
	})
}
