package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraceTracker(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Never Triggered Is Not Suppressed", func(t *testing.T) {
		g := NewGraceTracker(10)
		assert.False(t, g.ShouldSuppress(t0))
		_, ok := g.LastTriggeredAt()
		assert.False(t, ok)
	})

	t.Run("Zero Grace Never Suppresses", func(t *testing.T) {
		g := NewGraceTracker(0)
		g.RecordTrigger(t0)
		assert.False(t, g.ShouldSuppress(t0))
		assert.True(t, g.TryTrigger(t0.Add(time.Second)))
	})

	t.Run("Window Boundaries", func(t *testing.T) {
		g := NewGraceTracker(10)
		g.RecordTrigger(t0)

		cases := []struct {
			offset   time.Duration
			suppress bool
		}{
			{0, true},
			{time.Minute, true},
			{10*time.Minute - time.Nanosecond, true},
			{10 * time.Minute, false},
			{11 * time.Minute, false},
		}
		for _, c := range cases {
			assert.Equal(t, c.suppress, g.ShouldSuppress(t0.Add(c.offset)), "offset %v", c.offset)
		}
	})

	t.Run("Oversized Grace Still Suppresses", func(t *testing.T) {
		g := NewGraceTracker(200000000)
		require.True(t, g.TryTrigger(t0))
		assert.False(t, g.TryTrigger(t0.Add(time.Minute)))
		assert.True(t, g.ShouldSuppress(t0.Add(100*365*24*time.Hour)))
	})

	t.Run("TryTrigger Records Only When Allowed", func(t *testing.T) {
		g := NewGraceTracker(10)
		require.True(t, g.TryTrigger(t0))
		require.False(t, g.TryTrigger(t0.Add(5*time.Minute)))
		last, _ := g.LastTriggeredAt()
		assert.True(t, last.Equal(t0), "refused trigger moved last trigger to %v", last)
		assert.True(t, g.TryTrigger(t0.Add(11*time.Minute)))
	})

	t.Run("Concurrent TryTrigger Admits One", func(t *testing.T) {
		g := NewGraceTracker(10)
		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if g.TryTrigger(t0) {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, admitted)
	})
}
