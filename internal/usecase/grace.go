package usecase

import (
	"math"
	"sync"
	"time"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// GraceTracker records when a single condition instance last triggered and
// suppresses new triggers inside the grace window. Never share one between conditions.
type GraceTracker struct {
	grace time.Duration

	mu              sync.Mutex
	lastTriggeredAt time.Time
	triggered       bool
}

// NewGraceTracker creates a tracker for the given grace period. Zero disables suppression.
// Periods longer than a time.Duration can hold are capped.
func NewGraceTracker(graceMinutes int) *GraceTracker {
	if int64(graceMinutes) > domain.MaxMinutes {
		return &GraceTracker{grace: time.Duration(math.MaxInt64)}
	}
	return &GraceTracker{grace: time.Duration(graceMinutes) * time.Minute}
}

// ShouldSuppress reports whether a trigger at now falls inside the grace window.
func (g *GraceTracker) ShouldSuppress(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressLocked(now)
}

// RecordTrigger stores now as the last trigger time.
func (g *GraceTracker) RecordTrigger(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTriggeredAt = now
	g.triggered = true
}

// TryTrigger checks the grace window and records now in one step.
// It returns false when the trigger is suppressed.
func (g *GraceTracker) TryTrigger(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suppressLocked(now) {
		return false
	}
	g.lastTriggeredAt = now
	g.triggered = true
	return true
}

// LastTriggeredAt returns the last recorded trigger, if any.
func (g *GraceTracker) LastTriggeredAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastTriggeredAt, g.triggered
}

func (g *GraceTracker) suppressLocked(now time.Time) bool {
	if !g.triggered || g.grace <= 0 {
		return false
	}
	return now.Sub(g.lastTriggeredAt) < g.grace
}
