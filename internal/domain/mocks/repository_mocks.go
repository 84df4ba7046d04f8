package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// FakeSearchBackend is an in-memory domain.SearchBackend for testing.
// Build a fresh one per test case.
type FakeSearchBackend struct {
	mu            sync.Mutex
	SearchResult  *domain.SearchResult
	TermsResult   *domain.TermsResult
	SearchErr     error
	TermsErr      error
	SearchFunc    func(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)
	Stored        []domain.Message
	SearchCalls   []domain.SearchRequest
	TermsCalls    []domain.TermsRequest
	BlockUntilCtx bool
}

// WithMessages returns a backend whose raw search matches the given messages.
func WithMessages(messages ...domain.Message) *FakeSearchBackend {
	return &FakeSearchBackend{
		SearchResult: &domain.SearchResult{Total: int64(len(messages)), Messages: messages},
	}
}

// WithStoredMessages returns a backend that filters the given messages by the
// requested time range before counting and paging them.
func WithStoredMessages(messages ...domain.Message) *FakeSearchBackend {
	return &FakeSearchBackend{Stored: messages}
}

// WithTerms returns a backend whose terms aggregation returns the given buckets.
func WithTerms(terms map[string]int64) *FakeSearchBackend {
	return &FakeSearchBackend{TermsResult: &domain.TermsResult{Terms: terms}}
}

func (f *FakeSearchBackend) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	f.mu.Lock()
	f.SearchCalls = append(f.SearchCalls, req)
	fn, block, res, err := f.SearchFunc, f.BlockUntilCtx, f.SearchResult, f.SearchErr
	if f.Stored != nil {
		res = storedResult(f.Stored, req)
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &domain.SearchResult{}, nil
	}
	// Honour the requested page like a real backend would.
	page := res.Messages
	if req.Limit >= 0 && len(page) > req.Limit {
		page = page[:req.Limit]
	}
	return &domain.SearchResult{Total: res.Total, Messages: page}, nil
}

func storedResult(stored []domain.Message, req domain.SearchRequest) *domain.SearchResult {
	var hits []domain.Message
	for _, m := range stored {
		if req.Range.Contains(m.Timestamp) {
			hits = append(hits, m)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if req.Sort == domain.SortAscending {
			return hits[i].Timestamp.Before(hits[j].Timestamp)
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	return &domain.SearchResult{Total: int64(len(hits)), Messages: hits}
}

func (f *FakeSearchBackend) Terms(ctx context.Context, req domain.TermsRequest) (*domain.TermsResult, error) {
	f.mu.Lock()
	f.TermsCalls = append(f.TermsCalls, req)
	block, res, err := f.BlockUntilCtx, f.TermsResult, f.TermsErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &domain.TermsResult{Terms: map[string]int64{}}, nil
	}
	return res, nil
}

// Calls returns the number of search and terms calls received so far.
func (f *FakeSearchBackend) Calls() (search, terms int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SearchCalls), len(f.TermsCalls)
}

// MockResultPublisher is a mock implementation of domain.ResultPublisher for testing.
type MockResultPublisher struct {
	mu         sync.Mutex
	Published  []domain.CheckResult
	PublishErr error
}

func (m *MockResultPublisher) Publish(ctx context.Context, result domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, result)
	return nil
}

// Results returns a copy of the published results.
func (m *MockResultPublisher) Results() []domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CheckResult(nil), m.Published...)
}

// FakeClock is a settable clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockSpoolRepository is an in-memory domain.SpoolRepository for testing.
type MockSpoolRepository struct {
	mu        sync.Mutex
	Envelopes []domain.ResultEnvelope
	WriteErr  error
	Truncated int
}

func (m *MockSpoolRepository) Write(ctx context.Context, envelope domain.ResultEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Envelopes = append(m.Envelopes, envelope)
	return nil
}

func (m *MockSpoolRepository) Replay(ctx context.Context, handler func(envelope domain.ResultEnvelope) error) error {
	m.mu.Lock()
	envelopes := append([]domain.ResultEnvelope(nil), m.Envelopes...)
	m.mu.Unlock()
	for _, e := range envelopes {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockSpoolRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Envelopes = nil
	m.Truncated++
	return nil
}

func (m *MockSpoolRepository) ReplayAndTruncate(ctx context.Context, handler func(envelope domain.ResultEnvelope) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Envelopes {
		if err := handler(e); err != nil {
			return err
		}
	}
	m.Envelopes = nil
	m.Truncated++
	return nil
}

// Len returns the number of spooled envelopes.
func (m *MockSpoolRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Envelopes)
}
