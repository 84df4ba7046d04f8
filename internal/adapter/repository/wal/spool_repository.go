package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

const (
	segmentPrefix = "spool-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644
	maxLineBytes  = 8 << 20
)

// ErrSpoolFull is returned when a write would exceed the configured disk budget.
var ErrSpoolFull = errors.New("result spool is full")

// SpoolRepository is a segmented, append-only file spool for result envelopes
// that could not be delivered. Envelopes are stored one JSON document per line.
type SpoolRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
	seq            int64
}

// NewSpoolRepository opens (or creates) the spool under dir.
func NewSpoolRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*SpoolRepository, error) {
	if maxSegmentSize <= 0 || maxTotalSize <= 0 {
		return nil, fmt.Errorf("spool sizes must be positive (segment=%d, total=%d)", maxSegmentSize, maxTotalSize)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	s := &SpoolRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "spool_repository"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	total, err := s.diskUsage()
	if err != nil {
		return nil, err
	}
	s.totalSize = total
	if err := s.openLatestSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends one envelope to the current segment, rotating when it grows past
// the segment size.
func (s *SpoolRepository) Write(ctx context.Context, envelope domain.ResultEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal result envelope for spool: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d bytes)", ErrSpoolFull, s.totalSize, len(data), s.maxTotalSize)
	}
	if s.currentSegment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.currentSegment.Write(data)
	s.currentSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to spool segment: %w", err)
	}

	if s.currentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("Failed to rotate spool segment", "error", err)
		}
	}
	return nil
}

// Replay calls handler for every spooled envelope, oldest first. Corrupt lines are
// skipped. Replay stops at the first handler error; the spool is left intact.
func (s *SpoolRepository) Replay(ctx context.Context, handler func(envelope domain.ResultEnvelope) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayLocked(ctx, handler)
}

// ReplayAndTruncate replays every envelope and, if all were handled, truncates the
// spool. Writes issued meanwhile wait and land in the fresh segment.
func (s *SpoolRepository) ReplayAndTruncate(ctx context.Context, handler func(envelope domain.ResultEnvelope) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replayLocked(ctx, handler); err != nil {
		return err
	}
	return s.truncateLocked()
}

func (s *SpoolRepository) replayLocked(ctx context.Context, handler func(envelope domain.ResultEnvelope) error) error {
	if err := s.closeCurrent(); err != nil {
		s.logger.Warn("Failed to close spool segment before replay", "error", err)
	}

	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	s.logger.Info("Starting spool replay", "segment_count", len(segments))

	replayed := 0
	for _, path := range segments {
		n, err := s.replaySegment(ctx, path, handler)
		replayed += n
		if err != nil {
			return err
		}
	}

	s.logger.Info("Spool replay completed", "envelopes", replayed)
	return nil
}

func (s *SpoolRepository) replaySegment(ctx context.Context, path string, handler func(domain.ResultEnvelope) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		var envelope domain.ResultEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &envelope); err != nil {
			s.logger.Warn("Failed to unmarshal spooled envelope, skipping", "error", err, "segment", filepath.Base(path))
			continue
		}
		if err := handler(envelope); err != nil {
			s.logger.Error("Spool replay handler failed, stopping replay", "error", err, "envelope_id", envelope.ID)
			return replayed, fmt.Errorf("replay handler failed: %w", err)
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return replayed, nil
}

// Truncate removes every segment and starts a fresh one.
func (s *SpoolRepository) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncateLocked()
}

func (s *SpoolRepository) truncateLocked() error {
	if err := s.closeCurrent(); err != nil {
		s.logger.Warn("Failed to close spool segment before truncate", "error", err)
	}

	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Failed to remove spool segment", "path", path, "error", err)
		}
	}

	total, err := s.diskUsage()
	if err != nil {
		return err
	}
	s.totalSize = total
	s.logger.Info("Spool truncated")
	return s.rotate()
}

// Size returns the bytes currently held on disk.
func (s *SpoolRepository) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Close flushes and closes the current segment.
func (s *SpoolRepository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCurrent()
}

func (s *SpoolRepository) closeCurrent() error {
	if s.currentSegment == nil {
		return nil
	}
	f := s.currentSegment
	s.currentSegment = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *SpoolRepository) rotate() error {
	if err := s.closeCurrent(); err != nil {
		s.logger.Error("Failed to close spool segment before rotating", "error", err)
	}

	// Sequence keeps names ordered when rotations land in the same nanosecond.
	s.seq++
	name := fmt.Sprintf("%s%020d-%06d%s", segmentPrefix, time.Now().UnixNano(), s.seq%1_000_000, segmentSuffix)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new spool segment %s: %w", path, err)
	}
	s.currentSegment = f
	s.currentSize = 0
	s.logger.Debug("Rotated to new spool segment", "path", path)
	return nil
}

func (s *SpoolRepository) openLatestSegment() error {
	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return s.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}
	if stat.Size() >= s.maxSegmentSize {
		return s.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}
	s.currentSegment = f
	s.currentSize = stat.Size()
	s.logger.Info("Opened existing spool segment", "path", latest, "size", s.currentSize)
	return nil
}

func (s *SpoolRepository) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var segments []string
	for _, entry := range entries {
		if isSegment(entry) {
			segments = append(segments, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (s *SpoolRepository) diskUsage() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var total int64
	for _, entry := range entries {
		if !isSegment(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

func isSegment(entry os.DirEntry) bool {
	name := entry.Name()
	return !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix)
}
