package flow

import (
	"fmt"
	"time"

	"vault-auth/internal/auth"
)

// State is the lifecycle position of one sign-in attempt. Transitions
// happen only through Apply with a named event; handlers never assign
// states directly.
type State string

const (
	StatePending  State = "pending"
	StateAwaiting State = "awaiting_verification"
	StateVerified State = "verified"
	StateExpired  State = "expired"
	StateFailed   State = "failed"
)

// Event names a transition cause.
type Event string

const (
	EventSend     Event = "send"     // verification dispatched to the subject
	EventVerified Event = "verified" // gateway accepted the proof
	EventExpired  Event = "expired"  // gateway reported expired/invalid-by-age
	EventFailed   Event = "failed"   // gateway reported any other error
	EventResend   Event = "resend"   // user asked for a fresh attempt
)

// transitions is the whole legal state machine.
var transitions = map[State]map[Event]State{
	StatePending: {
		EventSend: StateAwaiting,
	},
	StateAwaiting: {
		EventVerified: StateVerified,
		EventExpired:  StateExpired,
		EventFailed:   StateFailed,
	},
	StateExpired: {
		EventResend: StatePending,
	},
}

// Resolution is the outcome of a verified attempt, kept on the flow so a
// replayed callback returns the same answer.
type Resolution struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IsNewUser bool   `json:"is_new_user"`
}

// Flow is one sign-in attempt. It is transient: created when the user
// submits a sign-in action, discarded once resolved. Only the resulting
// profile and session survive it.
type Flow struct {
	ID          string      `json:"id"`
	Method      auth.Method `json:"method"`
	SubjectHint string      `json:"subject_hint"` // email or wallet address
	State       State       `json:"state"`
	ReturnURL   string      `json:"return_url"` // already sanitized
	Referral    string      `json:"referral"`   // already normalized
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`

	// Resolved holds the outcome once State is verified.
	Resolved *Resolution `json:"resolved,omitempty"`
}

// Apply transitions the flow, or rejects the event as illegal for the
// current state.
func (f *Flow) Apply(ev Event, now time.Time) error {
	next, ok := transitions[f.State][ev]
	if !ok {
		return fmt.Errorf("flow %s: illegal event %q in state %q", f.ID, ev, f.State)
	}
	f.State = next

	// A resend is a fresh attempt with the same subject: new TTL,
	// same email, previous outcome discarded.
	if ev == EventResend {
		ttl := f.ExpiresAt.Sub(f.CreatedAt)
		f.CreatedAt = now
		f.ExpiresAt = now.Add(ttl)
		f.Resolved = nil
	}
	return nil
}

// ExpiredAt reports whether the attempt's TTL has lapsed.
func (f *Flow) ExpiredAt(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && now.After(f.ExpiresAt)
}
