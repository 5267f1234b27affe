package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/lthibault/jitterbug/v2"
)

// sweeper periodically evicts idle connections from a pool.
type sweeper struct {
	pool     *Pool
	interval time.Duration
}

func (s sweeper) String() string { return "gc" }

func (s sweeper) Serve(ctx context.Context) error {
	ticker := jitterbug.New(s.interval, jitterbug.Uniform{
		Min:    s.interval / 2,
		Source: rand.New(rand.NewSource(time.Now().UnixNano())),
	})
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.pool.Sweep(now)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
