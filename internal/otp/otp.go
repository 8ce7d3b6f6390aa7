package otp

import (
	"errors"
	"time"
)

// Challenge is a short-lived, attempt-limited one-time code bound 1:1 to an
// action token. Only the bcrypt hash of the code is ever persisted.
type Challenge struct {
	TokenID     string     `json:"token_id"`
	SubjectID   string     `json:"subject_id"`
	CodeHash    string     `json:"-"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	Expired     bool       `json:"expired"` // reporting flag set by the sweep
}

var (
	ErrNotFound         = errors.New("otp: challenge not found")
	ErrExpired          = errors.New("otp: challenge expired")
	ErrAttemptsExceeded = errors.New("otp: attempts exceeded")
	ErrMismatch         = errors.New("otp: code mismatch")
	ErrAlreadyExists    = errors.New("otp: challenge already exists")
)
