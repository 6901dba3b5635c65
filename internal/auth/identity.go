package auth

import "strings"

// Method identifies how a sign-in attempt authenticates the subject.
type Method string

const (
	MethodOTPEmail  Method = "otp-email"
	MethodMagicLink Method = "magic-link"
	MethodWallet    Method = "wallet-signature"

	oauthPrefix = "oauth:"
)

// OAuthMethod returns the method value for a named OAuth provider,
// e.g. "oauth:google".
func OAuthMethod(provider string) Method {
	return Method(oauthPrefix + provider)
}

// OAuthProvider returns the provider name embedded in an OAuth method,
// or "" if the method is not an OAuth one.
func (m Method) OAuthProvider() string {
	s := string(m)
	if !strings.HasPrefix(s, oauthPrefix) {
		return ""
	}
	return s[len(oauthPrefix):]
}

// Identity represents a normalized external authentication identity
// returned by the gateway. It contains facts only, no decisions.
type Identity struct {
	UserID        string // gateway-scoped stable user identifier (sub)
	Email         string // email asserted by the gateway
	EmailVerified bool   // whether the gateway asserts email ownership
	DisplayName   string
	AvatarURL     string
}
