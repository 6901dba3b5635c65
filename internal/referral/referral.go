package referral

import (
	"net/http"
	"strings"
	"time"
)

const (
	// CookieName carries a pending referral claim across the auth
	// redirect round-trip. The interval between signup steps runs
	// through an external redirect, so the claim lives client-side.
	CookieName = "__vault_ref"

	// DefaultTTL bounds how long an unclaimed referral survives.
	DefaultTTL = 10 * time.Minute

	maxCodeLen = 64
)

// Normalize canonicalizes a referral code: trimmed, upper-cased.
// Returns "" for codes that are empty or implausibly long after
// trimming.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxCodeLen {
		return ""
	}
	return code
}

// Jar is the narrow cookie capability for pending referrals. It scopes
// the cookie to the auth callback path and keeps it Lax so it survives
// the cross-origin redirect without leaking to other sites.
type Jar struct {
	Path   string // usually the callback route
	Secure bool
	TTL    time.Duration
}

func (j Jar) ttl() time.Duration {
	if j.TTL <= 0 {
		return DefaultTTL
	}
	return j.TTL
}

func (j Jar) path() string {
	if j.Path == "" {
		return "/"
	}
	return j.Path
}

// Set stores a normalized code. A code that normalizes to "" is a no-op.
func (j Jar) Set(w http.ResponseWriter, code string) {
	code = Normalize(code)
	if code == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    code,
		Path:     j.path(),
		MaxAge:   int(j.ttl().Seconds()),
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Get returns the pending referral code, normalized, or "".
func (j Jar) Get(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return Normalize(cookie.Value)
}

// Clear removes the pending claim. Called once the code has been
// persisted to the durable record (verified signups only).
func (j Jar) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     j.path(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
