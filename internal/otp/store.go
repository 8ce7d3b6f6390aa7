package otp

import (
	"context"
	"time"
)

// Store describes persistence for OTP challenges.
type Store interface {
	Create(ctx context.Context, ch *Challenge) error
	Find(ctx context.Context, tokenID string) (*Challenge, error)

	// IncrementAttempts bumps the attempt counter atomically, clamped at
	// max_attempts so the counter invariant holds under concurrent
	// submissions. exceeded reports that the budget was already exhausted
	// before this call.
	IncrementAttempts(ctx context.Context, tokenID string) (ch *Challenge, exceeded bool, err error)

	// MarkVerified transitions verified false -> true. The transition is
	// one-way; marking an already verified challenge is a no-op.
	MarkVerified(ctx context.Context, tokenID string, at time.Time) (*Challenge, error)

	// SweepExpired flags unresolved challenges past expiry. Reporting only.
	SweepExpired(ctx context.Context, now time.Time) ([]Challenge, error)
}
