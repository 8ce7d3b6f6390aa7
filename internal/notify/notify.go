// Package notify defines the boundary to the delivery infrastructure
// (email/SMS). The core only hands payloads over; rendering and transport
// live outside this repository.
package notify

import (
	"context"

	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
)

// Message is the payload handed to the dispatcher. Secret and Code are
// plaintext here and nowhere else; implementations must not log them.
type Message struct {
	RecipientHint string
	Purpose       string
	SubjectID     string
	Secret        string
	Code          string
}

// Dispatcher delivers action links and OTP codes. Calls are
// fire-and-forget from the caller's perspective: a delivery failure is
// audited but never rolls back the triggering operation.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher records delivery intents as log lines. Used when no real
// transport is configured. It deliberately omits the secret and code.
type LogDispatcher struct{}

func (LogDispatcher) Send(ctx context.Context, msg Message) error {
	obs.LogLine(map[string]any{
		"level":     "info",
		"msg":       "notification dispatched",
		"recipient": msg.RecipientHint,
		"purpose":   msg.Purpose,
		"subject":   msg.SubjectID,
	})
	return nil
}
