package signature

import (
	"context"
	"time"
)

// Store persists signature rows. Apply is the only mutation that sets the
// signed flag and must be conditional so a row signs at most once.
type Store interface {
	// Ensure creates the row for (dealID, role) if it does not exist and
	// returns the current row either way.
	Ensure(ctx context.Context, dealID string, role Role, signerName, signerEmail string, now time.Time) (*ContractSignature, error)

	Find(ctx context.Context, dealID string, role Role) (*ContractSignature, error)

	FindByToken(ctx context.Context, tokenID string) (*ContractSignature, error)

	List(ctx context.Context, dealID string) ([]ContractSignature, error)

	// SetToken binds the row to the currently outstanding signing token.
	SetToken(ctx context.Context, dealID string, role Role, tokenID string) (*ContractSignature, error)

	// Apply marks the row signed. applied reports whether this call won;
	// false means the row was already signed and the returned row is the
	// final state.
	Apply(ctx context.Context, dealID string, role Role, signerName string, at time.Time) (sig *ContractSignature, applied bool, err error)

	// Reset clears the signed and verification fields and the token
	// binding so the role must run a fresh token and verification cycle.
	Reset(ctx context.Context, dealID string, role Role) (*ContractSignature, error)
}
