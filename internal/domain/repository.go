package domain

import "context"

// ResultPublisher hands triggered results to the notification subsystem.
// This abstracts away the specific transport (e.g., Redis Streams, structured logs).
type ResultPublisher interface {
	// Publish delivers a triggered result. Non-triggered results are never published.
	Publish(ctx context.Context, result CheckResult) error
}

// SpoolRepository defines the local failover store used while the publisher's
// transport is unreachable.
type SpoolRepository interface {
	// Write appends an envelope to the spool.
	Write(ctx context.Context, envelope ResultEnvelope) error

	// Replay reads envelopes in write order and sends them to a handler function.
	// The handler is responsible for re-publishing the envelope.
	Replay(ctx context.Context, handler func(envelope ResultEnvelope) error) error

	// Truncate removes spooled envelopes that have been successfully replayed.
	Truncate(ctx context.Context) error

	// ReplayAndTruncate replays and then truncates without letting a concurrent
	// Write slip in between. The spool is left intact when the handler fails.
	ReplayAndTruncate(ctx context.Context, handler func(envelope ResultEnvelope) error) error
}

// PublisherStatus reports the state of the result transport.
type PublisherStatus struct {
	Transport    string `json:"transport"`
	Available    bool   `json:"available"`
	Spooling     bool   `json:"spooling"`
	StreamLength int64  `json:"stream_length,omitempty"`
}
