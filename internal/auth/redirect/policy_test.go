package redirect

import (
	"testing"

	"vault-auth/internal/profile"

	"github.com/stretchr/testify/assert"
)

func newPolicy() Policy {
	return New(
		"https://vault.example",
		[]string{"mydatahub"},
		"/onboarding",
		"/dashboard",
	)
}

func TestDestination_OnboardingWinsOverReturnURL(t *testing.T) {
	p := newPolicy()

	for _, state := range []profile.VaultState{profile.VaultNotStarted, profile.VaultInitializing, ""} {
		got := p.Destination(state, "https://vault.example/settings")
		assert.Equal(t, "/onboarding", got, "state %q", state)
	}
}

func TestDestination_ValidReturnURL(t *testing.T) {
	p := newPolicy()

	cases := map[string]string{
		"/settings":                      "/settings",
		"/settings?tab=keys":             "/settings?tab=keys",
		"https://vault.example/items/9":  "https://vault.example/items/9",
		"HTTPS://VAULT.EXAMPLE/items":    "HTTPS://VAULT.EXAMPLE/items",
		"mydatahub://open/vault":         "mydatahub://open/vault",
	}
	for in, want := range cases {
		assert.Equal(t, want, p.Destination(profile.VaultInitialized, in), "input %q", in)
	}
}

func TestDestination_RejectsUnsafeReturnURL(t *testing.T) {
	p := newPolicy()

	unsafe := []string{
		"https://evil.example/x",
		"http://vault.example/x", // scheme downgrade
		"//evil.example/x",
		"/\\evil.example",
		"javascript:alert(1)",
		"otherapp://open",
		"not a url ::",
		"",
		"   ",
	}
	for _, in := range unsafe {
		got := p.Destination(profile.VaultInitialized, in)
		assert.Equal(t, "/dashboard", got, "input %q must fall back to default", in)
	}
}

func TestSanitize_NilOriginRejectsAbsolute(t *testing.T) {
	p := New("::::", nil, "/onboarding", "/dashboard")

	_, ok := p.Sanitize("https://vault.example/x")
	assert.False(t, ok)

	got, ok := p.Sanitize("/relative")
	assert.True(t, ok)
	assert.Equal(t, "/relative", got)
}
