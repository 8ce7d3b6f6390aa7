package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingTarget struct {
	calls atomic.Int64
	err   error
}

func (c *countingTarget) SweepExpired(context.Context) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return 1, nil
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	target := &countingTarget{}
	s := New(5*time.Millisecond, target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for target.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps before deadline", target.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestFailingTargetDoesNotStopOthers(t *testing.T) {
	failing := &countingTarget{err: errors.New("store down")}
	healthy := &countingTarget{}
	s := New(time.Hour, failing, healthy)

	s.Sweep(context.Background())

	if failing.calls.Load() != 1 || healthy.calls.Load() != 1 {
		t.Fatalf("calls: failing=%d healthy=%d, want 1 each", failing.calls.Load(), healthy.calls.Load())
	}
}
