package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// generator produces synthetic events whose user and ip fields are drawn from
// fixed pools, so grouping and distinction conditions have predictable cardinality.
type generator struct {
	stream  string
	message string
	users   int
	ips     int
	rnd     *rand.Rand
}

func newGenerator(stream, message string, users, ips int, seed int64) *generator {
	if users < 1 {
		users = 1
	}
	if ips < 1 {
		ips = 1
	}
	return &generator{
		stream:  stream,
		message: message,
		users:   users,
		ips:     ips,
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

func (g *generator) batch(now time.Time, n int) []domain.Message {
	msgs := make([]domain.Message, n)
	for i := range msgs {
		msgs[i] = domain.Message{
			ID:        uuid.NewString(),
			Timestamp: now,
			Source:    g.stream,
			Level:     "warn",
			Message:   g.message,
			Fields: map[string]any{
				"user": fmt.Sprintf("user-%d", g.rnd.Intn(g.users)),
				"ip":   fmt.Sprintf("10.0.0.%d", g.rnd.Intn(g.ips)+1),
			},
		}
	}
	return msgs
}
