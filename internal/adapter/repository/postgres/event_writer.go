package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS logs (
	event_id    UUID PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	event_time  TIMESTAMPTZ NOT NULL,
	source      TEXT,
	level       TEXT,
	message     TEXT,
	metadata    JSONB
);
CREATE INDEX IF NOT EXISTS logs_source_event_time_idx ON logs (source, event_time);
`

// EnsureSchema creates the logs table and its search index if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return wrapPQError("create logs schema", err)
	}
	return nil
}

// EventWriter loads messages into the logs table. It is used to seed streams for
// evaluation; the production ingestion pipeline owns the table otherwise.
type EventWriter struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventWriter creates a new EventWriter.
func NewEventWriter(db *sql.DB, logger *slog.Logger) *EventWriter {
	return &EventWriter{db: db, logger: logger.With("component", "postgres_event_writer")}
}

// WriteBatch writes messages using the COPY protocol. An ON CONFLICT upsert on
// event_id makes retried batches idempotent.
func (w *EventWriter) WriteBatch(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	txn, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	// Stage into a temporary table, then merge into the main table.
	tempTableName := "logs_temp_import"
	if _, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (LIKE logs INCLUDING DEFAULTS) ON COMMIT DROP;`); err != nil {
		return wrapPQError("create staging table", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(tempTableName, "event_id", "received_at", "event_time", "source", "level", "message", "metadata"))
	if err != nil {
		return wrapPQError("prepare copy", err)
	}

	receivedAt := time.Now().UTC()
	for _, msg := range messages {
		var metadata []byte
		if len(msg.Fields) > 0 {
			if metadata, err = json.Marshal(msg.Fields); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("failed to marshal fields of event %s: %w", msg.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, msg.ID, receivedAt, msg.Timestamp, msg.Source, msg.Level, msg.Message, metadata); err != nil {
			// Close the statement to avoid connection issues
			_ = stmt.Close()
			return wrapPQError("copy event", err)
		}
	}
	if err := stmt.Close(); err != nil {
		return wrapPQError("flush copy", err)
	}

	upsertQuery := `
		INSERT INTO logs (event_id, received_at, event_time, source, level, message, metadata)
		SELECT event_id, received_at, event_time, source, level, message, metadata FROM ` + tempTableName + `
		ON CONFLICT (event_id) DO UPDATE SET
			event_time = EXCLUDED.event_time,
			source = EXCLUDED.source,
			level = EXCLUDED.level,
			message = EXCLUDED.message,
			metadata = EXCLUDED.metadata;
	`
	if _, err := txn.ExecContext(ctx, upsertQuery); err != nil {
		return wrapPQError("merge staged events", err)
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	w.logger.Debug("wrote event batch", "count", len(messages))
	return nil
}
