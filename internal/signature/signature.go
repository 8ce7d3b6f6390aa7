package signature

import (
	"errors"
	"time"
)

// Role identifies which party a signature row belongs to. Each deal has at
// most one row per role.
type Role string

const (
	RoleCreator Role = "creator"
	RoleBrand   Role = "brand"
)

// ParseRole validates a wire-format role string.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleCreator, RoleBrand:
		return Role(raw), true
	}
	return "", false
}

// Signing states derived for a (deal, role) pair.
const (
	StateNotReady          = "not_ready"
	StateAwaitingSignature = "awaiting_signature"
	StateOTPPending        = "otp_pending"
	StateSigned            = "signed"
	StateExpired           = "expired"
	StateRevoked           = "revoked"
)

// ContractSignature is the signature record for one (deal, role) pair.
// signed implies otp_verified for purposes that require step-up
// verification; the workflow is the only writer of the signed flag.
type ContractSignature struct {
	DealID        string     `json:"deal_id"`
	Role          Role       `json:"signer_role"`
	SignerName    string     `json:"signer_name,omitempty"`
	SignerEmail   string     `json:"signer_email,omitempty"`
	TokenID       string     `json:"-"`
	Signed        bool       `json:"signed"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	OTPVerified   bool       `json:"otp_verified"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

var (
	ErrNotFound       = errors.New("signature: not found")
	ErrAlreadyApplied = errors.New("signature: already applied")
	ErrInvalidInput   = errors.New("signature: invalid input")
)
