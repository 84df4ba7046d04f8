package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

const logsTableName = "logs"

// Built-in columns of the logs table addressable as fields; anything else is
// looked up in the metadata JSONB document.
var builtinColumns = map[string]string{
	"source":   "source",
	"level":    "level",
	"message":  "message",
	"event_id": "event_id::text",
}

// SearchBackend implements domain.SearchBackend over the PostgreSQL logs table
// written by the ingestion pipeline:
//
//	logs(event_id, received_at, event_time, source, level, message, metadata jsonb)
//
// A stream is the event source; the time range applies to event_time.
type SearchBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSearchBackend creates a new PostgreSQL search backend.
func NewSearchBackend(db *sql.DB, logger *slog.Logger) *SearchBackend {
	return &SearchBackend{db: db, logger: logger.With("component", "postgres_search_backend")}
}

// Search counts every hit in range and loads up to req.Limit of them.
func (b *SearchBackend) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	countSQL, pageSQL, args, err := buildSearchQueries(req)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := b.db.QueryRowContext(ctx, countSQL, args.values...).Scan(&total); err != nil {
		return nil, wrapPQError("count hits", err)
	}

	result := &domain.SearchResult{Total: total}
	if pageSQL == "" || total == 0 {
		return result, nil
	}

	rows, err := b.db.QueryContext(ctx, pageSQL, args.pageValues...)
	if err != nil {
		return nil, wrapPQError("load hits", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := b.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result.Messages = append(result.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPQError("iterate hits", err)
	}
	return result, nil
}

// Terms counts hits per combination of field values. Events missing any of the
// fields are not counted.
func (b *SearchBackend) Terms(ctx context.Context, req domain.TermsRequest) (*domain.TermsResult, error) {
	query, args, err := buildTermsQuery(req)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPQError("terms aggregation", err)
	}
	defer rows.Close()

	result := &domain.TermsResult{Terms: make(map[string]int64)}
	for rows.Next() {
		var term string
		var hits int64
		if err := rows.Scan(&term, &hits); err != nil {
			return nil, fmt.Errorf("failed to scan terms bucket: %w", err)
		}
		result.Terms[term] = hits
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPQError("iterate terms buckets", err)
	}
	b.logger.Debug("terms aggregation completed", "fields", req.Fields, "buckets", len(result.Terms))
	return result, nil
}

func (b *SearchBackend) scanMessage(rows *sql.Rows) (domain.Message, error) {
	var msg domain.Message
	var source, level sql.NullString
	var metadata []byte
	if err := rows.Scan(&msg.ID, &msg.Timestamp, &source, &level, &msg.Message, &metadata); err != nil {
		return domain.Message{}, fmt.Errorf("failed to scan log row: %w", err)
	}
	msg.Source = source.String
	msg.Level = level.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Fields); err != nil {
			// Keep the hit; the fields are only evidence.
			b.logger.Warn("failed to decode log metadata", "event_id", msg.ID, "error", err)
		}
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

// queryArgs tracks positional parameters. pageValues extends values with LIMIT/OFFSET.
type queryArgs struct {
	values     []any
	pageValues []any
}

func (a *queryArgs) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// whereClause renders the predicates shared by both query shapes.
func whereClause(args *queryArgs, query, filter string, r domain.TimeRange, fields map[string]string) (string, error) {
	streams, err := streamIDs(filter)
	if err != nil {
		return "", err
	}

	preds := []string{
		"event_time >= " + args.add(r.From),
		"event_time < " + args.add(r.To),
	}
	if len(streams) > 0 {
		preds = append(preds, "source = ANY("+args.add(pq.Array(streams))+")")
	}
	if q := strings.TrimSpace(query); q != "" && q != "*" {
		preds = append(preds, "message ILIKE '%' || "+args.add(escapeLike(q))+" || '%'")
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		preds = append(preds, fieldExpr(args, name)+" = "+args.add(fields[name]))
	}
	return strings.Join(preds, " AND "), nil
}

func buildSearchQueries(req domain.SearchRequest) (countSQL, pageSQL string, args queryArgs, err error) {
	if req.Limit < 0 || req.Offset < 0 {
		return "", "", args, fmt.Errorf("invalid page (limit=%d, offset=%d)", req.Limit, req.Offset)
	}
	where, err := whereClause(&args, req.Query, req.Filter, req.Range, req.Fields)
	if err != nil {
		return "", "", args, err
	}

	countSQL = "SELECT COUNT(*) FROM " + logsTableName + " WHERE " + where
	if req.Limit == 0 {
		return countSQL, "", args, nil
	}

	order := "DESC"
	if req.Sort == domain.SortAscending {
		order = "ASC"
	}
	args.pageValues = append(append([]any{}, args.values...), req.Limit, req.Offset)
	n := len(args.values)
	pageSQL = fmt.Sprintf(
		"SELECT event_id::text, event_time, source, level, COALESCE(message, ''), metadata FROM %s WHERE %s ORDER BY event_time %s LIMIT $%d OFFSET $%d",
		logsTableName, where, order, n+1, n+2)
	return countSQL, pageSQL, args, nil
}

func buildTermsQuery(req domain.TermsRequest) (string, []any, error) {
	if len(req.Fields) == 0 {
		return "", nil, errors.New("terms aggregation needs at least one field")
	}
	if req.Size <= 0 {
		return "", nil, fmt.Errorf("invalid terms size %d", req.Size)
	}

	var args queryArgs
	where, err := whereClause(&args, req.Query, req.Filter, req.Range, nil)
	if err != nil {
		return "", nil, err
	}

	exprs := make([]string, len(req.Fields))
	for i, field := range req.Fields {
		exprs[i] = fieldExpr(&args, field)
		where += " AND " + exprs[i] + " IS NOT NULL"
	}

	direction := "DESC"
	if req.Direction == domain.SortAscending {
		direction = "ASC"
	}
	query := fmt.Sprintf(
		"SELECT concat_ws(%s, %s) AS term, COUNT(*) AS hits FROM %s WHERE %s GROUP BY 1 ORDER BY hits %s, term LIMIT %s",
		pq.QuoteLiteral(domain.TermKeySeparator), strings.Join(exprs, ", "), logsTableName, where, direction, args.add(req.Size))
	return query, args.values, nil
}

// fieldExpr maps a field name to a column or a metadata lookup. Metadata keys are
// always bound as parameters.
func fieldExpr(args *queryArgs, field string) string {
	if col, ok := builtinColumns[field]; ok {
		return col
	}
	return "metadata->>" + args.add(field)
}

// streamIDs extracts the stream IDs from a "streams:<id>[,<id>...]" filter.
// An empty filter, or a "*" among the ids, matches every stream.
func streamIDs(filter string) ([]string, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}
	list, ok := domain.ParseStreamFilter(filter)
	if !ok {
		return nil, fmt.Errorf("unsupported filter %q", filter)
	}
	var ids []string
	for _, id := range strings.Split(list, ",") {
		switch id = strings.TrimSpace(id); id {
		case "":
		case domain.AllStreams:
			return nil, nil
		default:
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func wrapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %s (sqlstate %s): %w", op, pqErr.Message, pqErr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
