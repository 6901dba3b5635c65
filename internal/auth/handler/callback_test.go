package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"vault-auth/internal/referral"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *authHarness) get(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// startOAuth runs the login redirect and returns the callback cookies
// plus the state value the gateway URL carries.
func startOAuth(t *testing.T, h *authHarness) (cookies []*http.Cookie, state string) {
	t.Helper()
	w := h.get(t, "/oauth/login/google?returnUrl=/settings&ref=abc")
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "gateway.test", location.Host)
	assert.Equal(t, "google", location.Query().Get("provider"))

	return w.Result().Cookies(), location.Query().Get("state")
}

func TestOAuthLogin_SetsHandoffCookies(t *testing.T) {
	h := newAuthHarness(t)

	cookies, state := startOAuth(t, h)
	require.NotEmpty(t, state)

	names := make(map[string]string)
	for _, c := range cookies {
		names[c.Name] = c.Value
	}
	assert.Equal(t, state, names[stateCookieName])
	assert.NotEmpty(t, names[pkceCookieName])
	assert.NotEmpty(t, names[flowCookieName])
	assert.Equal(t, "ABC", names[referral.CookieName])
}

func TestCallback_OAuthCode(t *testing.T) {
	h := newAuthHarness(t)
	cookies, state := startOAuth(t, h)

	w := h.get(t, "/auth/callback?code=authcode&state="+url.QueryEscape(state), cookies...)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	// First login, so the policy routes to onboarding over returnUrl.
	assert.Equal(t, "/onboarding", w.Header().Get("Location"))
	require.NotNil(t, cookieByName(w, "__Host-session"))
	assert.Contains(t, h.gw.Calls, "ExchangeCode")
}

func TestCallback_StateMismatch(t *testing.T) {
	h := newAuthHarness(t)
	cookies, _ := startOAuth(t, h)

	w := h.get(t, "/auth/callback?code=authcode&state=forged", cookies...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, h.gw.Calls, "ExchangeCode")
}

func TestCallback_MissingPKCE(t *testing.T) {
	h := newAuthHarness(t)
	cookies, state := startOAuth(t, h)

	var withoutPKCE []*http.Cookie
	for _, c := range cookies {
		if c.Name != pkceCookieName {
			withoutPKCE = append(withoutPKCE, c)
		}
	}

	w := h.get(t, "/auth/callback?code=authcode&state="+url.QueryEscape(state), withoutPKCE...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, h.gw.Calls, "ExchangeCode")
}

func TestCallback_ProviderError(t *testing.T) {
	h := newAuthHarness(t)

	w := h.get(t, "/auth/callback?error=access_denied&error_description=user+cancelled")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestCallback_ExpiredLink(t *testing.T) {
	h := newAuthHarness(t)

	// Without a flow the email comes from the query.
	w := h.get(t, "/auth/callback?expired=true&email=alice%40example.com")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?expired=true&email=alice%40example.com", w.Header().Get("Location"))

	// With a flow the stored address wins over the query.
	send := h.post(t, "/auth/magiclink", map[string]any{
		"email":         "bob@example.com",
		"acceptedTerms": true,
	})
	fc := cookieByName(send, flowCookieName)
	require.NotNil(t, fc)

	w = h.get(t, "/auth/callback?expired=true&email=spoof%40example.com", fc)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?expired=true&email=bob%40example.com", w.Header().Get("Location"))
}

func TestCallback_MagicLinkToken(t *testing.T) {
	h := newAuthHarness(t)

	send := h.post(t, "/auth/magiclink", map[string]any{
		"email":         "alice@example.com",
		"returnUrl":     "/settings",
		"acceptedTerms": true,
	})
	require.Equal(t, http.StatusAccepted, send.Code)
	fc := cookieByName(send, flowCookieName)
	require.NotNil(t, fc)

	// The link carries only the token; the email comes from the flow.
	w := h.get(t, "/auth/callback?token=linktoken", fc)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "/onboarding", w.Header().Get("Location"))

	sc := cookieByName(w, "__Host-session")
	require.NotNil(t, sc)
	assert.Contains(t, h.gw.Calls, "VerifyOTP")
}

func TestCallback_ReplayAfterLogin(t *testing.T) {
	h := newAuthHarness(t)

	send := h.post(t, "/auth/magiclink", map[string]any{
		"email":         "alice@example.com",
		"acceptedTerms": true,
	})
	fc := cookieByName(send, flowCookieName)
	require.NotNil(t, fc)

	first := h.get(t, "/auth/callback?token=linktoken", fc)
	require.Equal(t, http.StatusFound, first.Code)
	sc := cookieByName(first, "__Host-session")
	require.NotNil(t, sc)
	createsBefore := len(h.profiles.profiles)

	// The callback page remounts with no query: an established session
	// resolves to the same destination, not an error.
	second := h.get(t, "/auth/callback", fc, sc)
	assert.Equal(t, http.StatusFound, second.Code, second.Body.String())
	assert.Equal(t, "/onboarding", second.Header().Get("Location"))
	assert.Equal(t, createsBefore, len(h.profiles.profiles), "replay creates nothing")
}

func TestCallback_NothingUsable(t *testing.T) {
	h := newAuthHarness(t)

	w := h.get(t, "/auth/callback")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout(t *testing.T) {
	h := newAuthHarness(t)

	send := h.post(t, "/auth/magiclink", map[string]any{
		"email":         "alice@example.com",
		"acceptedTerms": true,
	})
	fc := cookieByName(send, flowCookieName)
	login := h.get(t, "/auth/callback?token=linktoken", fc)
	sc := cookieByName(login, "__Host-session")
	require.NotNil(t, sc)

	w := h.post(t, "/auth/logout", map[string]string{}, sc)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, h.sessions.sessions)

	// Logging out twice is still logged out.
	w = h.post(t, "/auth/logout", map[string]string{}, sc)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
