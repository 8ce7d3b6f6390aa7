package token

import (
	"time"
)

// Purpose tags what an action token authorizes. Policy differences between
// purposes (single-use, step-up verification, default lifetime) live in the
// purpose table below rather than in separate code paths.
type Purpose string

const (
	PurposeViewContract   Purpose = "view_contract"
	PurposeBrandReply     Purpose = "brand_reply"
	PurposeShippingUpdate Purpose = "shipping_update"
	PurposeSignContract   Purpose = "sign_contract"
)

// Policy captures per-purpose behavior.
type Policy struct {
	SingleUse   bool
	RequiresOTP bool
	DefaultTTL  time.Duration
}

var policies = map[Purpose]Policy{
	// Viewing is bounded by expiry only; repeat visits are expected and
	// audited individually.
	PurposeViewContract:   {SingleUse: false, RequiresOTP: false, DefaultTTL: 30 * 24 * time.Hour},
	PurposeBrandReply:     {SingleUse: true, RequiresOTP: false, DefaultTTL: 14 * 24 * time.Hour},
	PurposeShippingUpdate: {SingleUse: true, RequiresOTP: false, DefaultTTL: 14 * 24 * time.Hour},
	PurposeSignContract:   {SingleUse: true, RequiresOTP: true, DefaultTTL: 14 * 24 * time.Hour},
}

// PolicyFor returns the policy for a purpose.
func PolicyFor(p Purpose) (Policy, bool) {
	pol, ok := policies[p]
	return pol, ok
}

// ParsePurpose validates a wire-format purpose string.
func ParsePurpose(raw string) (Purpose, bool) {
	p := Purpose(raw)
	_, ok := policies[p]
	return p, ok
}

// ActionToken grants an unauthenticated bearer permission to perform one
// bounded action on a subject. A token is usable iff it is not used, not
// revoked, and not past its expiry.
type ActionToken struct {
	ID            string     `json:"id"`
	Secret        string     `json:"-"`
	Purpose       Purpose    `json:"purpose"`
	SubjectID     string     `json:"subject_id"`
	RecipientHint string     `json:"recipient_hint,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	Revoked       bool       `json:"revoked"`
	Expired       bool       `json:"expired"` // reporting flag set by the sweep
}

// Usable reports whether the token can still be claimed at the given time.
func (t *ActionToken) Usable(now time.Time) bool {
	return !t.Used && !t.Revoked && now.Before(t.ExpiresAt)
}
