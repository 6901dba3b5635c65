// Package redirect computes the post-login destination. It is pure:
// callers perform the navigation, this package only decides where.
package redirect

import (
	"net/url"
	"strings"

	"vault-auth/internal/profile"
)

// Policy decides where a freshly authenticated user goes next.
type Policy struct {
	// Origin is the service's public origin; return URLs must match
	// it or use an allow-listed deep-link scheme.
	Origin *url.URL

	// DeepLinkSchemes are custom schemes (desktop builds) a return
	// URL may use, e.g. "mydatahub".
	DeepLinkSchemes []string

	OnboardingPath string
	DefaultPath    string
}

// New parses the origin and builds a policy. An unparseable origin
// disables absolute return URLs entirely rather than failing open.
func New(origin string, deepLinkSchemes []string, onboardingPath, defaultPath string) Policy {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		u = nil
	}
	return Policy{
		Origin:          u,
		DeepLinkSchemes: deepLinkSchemes,
		OnboardingPath:  onboardingPath,
		DefaultPath:     defaultPath,
	}
}

// Destination applies the precedence rules:
//
//  1. vault not yet initialized (or unknown) → onboarding
//  2. valid return URL supplied at request time → that URL
//  3. otherwise → default authenticated landing route
//
// A malformed or cross-origin returnURL is treated as absent, never
// followed. Destination never fails; it degrades to the default.
func (p Policy) Destination(vaultState profile.VaultState, returnURL string) string {
	if vaultState != profile.VaultInitialized {
		return p.OnboardingPath
	}
	if sanitized, ok := p.Sanitize(returnURL); ok {
		return sanitized
	}
	return p.DefaultPath
}

// Sanitize validates a caller-supplied return URL. Accepted forms:
// same-site relative paths ("/x", not "//host"), absolute URLs on the
// configured origin, and allow-listed deep-link schemes. Everything
// else is rejected.
func (p Policy) Sanitize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	// Relative path. "//host" is scheme-relative and attacker-useful,
	// and backslashes are treated as slashes by some browsers.
	if strings.HasPrefix(raw, "/") {
		if strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
			return "", false
		}
		return raw, true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", false
	}

	for _, scheme := range p.DeepLinkSchemes {
		if strings.EqualFold(u.Scheme, scheme) {
			return raw, true
		}
	}

	if p.Origin == nil {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, p.Origin.Scheme) {
		return "", false
	}
	if !strings.EqualFold(u.Host, p.Origin.Host) {
		return "", false
	}
	return raw, true
}
