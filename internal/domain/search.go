package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TermKeySeparator joins the field values of a composite terms key, e.g. "alice - 10.0.0.1".
const TermKeySeparator = " - "

const streamFilterPrefix = "streams:"

// SortOrder is the direction used when ordering search hits or terms buckets.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Message is a single indexed log event returned by the search backend.
type Message struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Field returns the string form of a named field. The built-in columns
// (source, level, message) take precedence over custom fields.
func (m Message) Field(name string) (string, bool) {
	switch name {
	case "source":
		return m.Source, m.Source != ""
	case "level":
		return m.Level, m.Level != ""
	case "message":
		return m.Message, true
	}
	v, ok := m.Fields[name]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// SearchRequest is a raw hit search over a time range.
type SearchRequest struct {
	Query  string
	Filter string
	Range  TimeRange
	Offset int
	Limit  int
	Sort   SortOrder
	// Fields restricts hits to events whose named fields equal the given values.
	Fields map[string]string
}

// SearchResult carries the total number of hits and the requested page of messages.
type SearchResult struct {
	Total    int64
	Messages []Message
}

// TermsRequest is a terms aggregation over one or more stacked fields.
type TermsRequest struct {
	Fields    []string
	Size      int
	Query     string
	Filter    string
	Range     TimeRange
	Direction SortOrder
}

// TermsResult maps composite keys (values joined by TermKeySeparator) to hit counts.
type TermsResult struct {
	Terms map[string]int64
}

// SearchBackend executes queries against the indexed events.
// Implementations must honour context cancellation and deadlines.
type SearchBackend interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Terms(ctx context.Context, req TermsRequest) (*TermsResult, error)
}

// AllStreams is the stream id that matches events of every stream.
const AllStreams = "*"

// StreamFilter builds the filter restricting a query to one stream.
func StreamFilter(streamID string) string {
	return streamFilterPrefix + streamID
}

// ParseStreamFilter extracts the stream ID from a filter built by StreamFilter.
func ParseStreamFilter(filter string) (string, bool) {
	if !strings.HasPrefix(filter, streamFilterPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(filter, streamFilterPrefix)
	return id, id != ""
}
