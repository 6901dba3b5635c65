package auth

import "errors"

// Error taxonomy for the sign-in flows. Handlers classify with errors.Is
// and map each kind to exactly one HTTP status; nothing is swallowed.
var (
	// ErrInvalidInput covers malformed emails, missing fields and
	// unknown providers. Recovered locally, no gateway retry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited is the gateway's throttle response, surfaced
	// verbatim with a wait hint. Never retried in a loop.
	ErrRateLimited = errors.New("rate limited")

	// ErrExpired marks an expired OTP or magic link. Terminal for the
	// attempt, but recoverable through resend.
	ErrExpired = errors.New("verification expired")

	// ErrInvalidSignature is a wallet signature that does not recover
	// to the claimed address, a consumed nonce, or an out-of-window
	// challenge. Deliberately indistinguishable between those causes.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAuthenticationFailed is the generic terminal failure after
	// the bounded retry budget is spent.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrGatewayUnavailable covers gateway 5xx and transport errors.
	ErrGatewayUnavailable = errors.New("identity gateway unavailable")
)
