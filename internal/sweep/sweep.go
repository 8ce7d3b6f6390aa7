package sweep

import (
	"context"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
)

// Sweepable flags its expired records and reports how many it touched.
type Sweepable interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically flags expired tokens and challenges for reporting.
// It is the only writer of the expired columns; request paths always judge
// expiry against the clock.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable
}

func New(interval time.Duration, targets ...Sweepable) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{interval: interval, targets: targets}
}

// Run sweeps on every tick until the context is cancelled. A failing sweep
// is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every target.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, target := range s.targets {
		n, err := target.SweepExpired(ctx)
		if err != nil {
			obs.LogLine(map[string]any{
				"level": "error",
				"msg":   "sweep failed",
				"error": err.Error(),
			})
			continue
		}
		if n > 0 {
			obs.LogLine(map[string]any{
				"level": "info",
				"msg":   "sweep complete",
				"swept": n,
			})
		}
	}
}
