package token

import "errors"

// All claim failures are terminal for the presented token; the caller must
// request a fresh token rather than retry.
var (
	ErrNotFound     = errors.New("token: not found")
	ErrExpired      = errors.New("token: expired")
	ErrAlreadyUsed  = errors.New("token: already used")
	ErrRevoked      = errors.New("token: revoked")
	ErrInvalidInput = errors.New("token: invalid input")
)

// errNotClaimed signals that the conditional claim update matched no row.
// Store implementations return it so the service can classify the loss.
var errNotClaimed = errors.New("token: not claimed")
