package token

import (
	"context"
	"time"
)

// Store describes persistence for action tokens. The persistent store is the
// single source of truth; implementations must not cache usability.
type Store interface {
	Insert(ctx context.Context, tok *ActionToken) error
	FindByID(ctx context.Context, id string) (*ActionToken, error)
	FindBySecret(ctx context.Context, secret string) (*ActionToken, error)

	// Claim atomically flips used for the token matching secret and purpose,
	// but only when the token is still usable at now. The read of the prior
	// used flag and the write happen in one conditional update so that two
	// concurrent claims of the same secret can never both succeed. Returns
	// errNotClaimed when no row matched.
	Claim(ctx context.Context, secret string, purpose Purpose, now time.Time) (*ActionToken, error)

	// Revoke marks the token revoked. Idempotent: revoking an already
	// revoked token reports done=false with no error.
	Revoke(ctx context.Context, id string) (tok *ActionToken, done bool, err error)

	// SweepExpired flags tokens past expiry that were never resolved and
	// returns those newly flagged. Reporting only; every read path enforces
	// expiry on its own.
	SweepExpired(ctx context.Context, now time.Time) ([]ActionToken, error)
}
