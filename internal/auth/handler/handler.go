package handler

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/auth/flow"
	"vault-auth/internal/auth/redirect"
	"vault-auth/internal/auth/request"
	"vault-auth/internal/auth/resolver"
	"vault-auth/internal/auth/wallet"
	"vault-auth/internal/gateway"
	"vault-auth/internal/logger"
	"vault-auth/internal/middleware"
	"vault-auth/internal/profile"
	"vault-auth/internal/referral"
	"vault-auth/internal/session"

	"github.com/gin-gonic/gin"
)

const (
	flowCookieName = "__auth_flow"
	flowCookieTTL  = 90 * time.Minute
)

type Handler struct {
	builder  *request.Builder
	resolver *resolver.Resolver
	verifier *wallet.Verifier
	admin    gateway.AdminAPI

	flows    flow.Store
	sessions session.Store
	profiles profile.Store

	policy     redirect.Policy
	refJar     referral.Jar
	sessionTTL time.Duration
	secure     bool
}

type Deps struct {
	Builder  *request.Builder
	Resolver *resolver.Resolver
	Verifier *wallet.Verifier
	Admin    gateway.AdminAPI

	Flows    flow.Store
	Sessions session.Store
	Profiles profile.Store

	Policy     redirect.Policy
	RefJar     referral.Jar
	SessionTTL time.Duration
	Secure     bool
}

func NewHandler(d Deps) *Handler {
	if d.SessionTTL <= 0 {
		d.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		builder:    d.Builder,
		resolver:   d.Resolver,
		verifier:   d.Verifier,
		admin:      d.Admin,
		flows:      d.Flows,
		sessions:   d.Sessions,
		profiles:   d.Profiles,
		policy:     d.Policy,
		refJar:     d.RefJar,
		sessionTTL: d.SessionTTL,
		secure:     d.Secure,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, limit gin.HandlerFunc) {
	r.GET("/oauth/login/:provider", h.oauthLogin)
	r.GET("/auth/callback", h.callback)

	sends := r.Group("/auth")
	sends.Use(limit)
	sends.POST("/otp/send", h.otpSend)
	sends.POST("/otp/verify", h.otpVerify)
	sends.POST("/magiclink", h.magicLink)
	sends.POST("/resend", h.resend)

	r.GET("/api/auth/web3/nonce", h.web3Nonce)
	r.POST("/api/auth/web3", limit, h.web3Login)

	r.POST("/auth/logout", h.logout)
}

// --- shared helpers ---

// fail maps the error taxonomy onto one status each and answers
// in-place. Nothing is swallowed; everything is classifiable.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, request.ErrTermsNotAccepted):
		status, msg = http.StatusBadRequest, "terms must be accepted"
	case errors.Is(err, auth.ErrInvalidInput):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, auth.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "too many attempts, wait a moment and try again"
	case errors.Is(err, auth.ErrExpired):
		status, msg = http.StatusGone, "verification expired, request a new one"
	case errors.Is(err, auth.ErrInvalidSignature):
		status, msg = http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, auth.ErrAuthenticationFailed):
		status, msg = http.StatusUnauthorized, "authentication failed"
	case errors.Is(err, auth.ErrGatewayUnavailable):
		status, msg = http.StatusBadGateway, "authentication service unavailable, try again"
	}

	if status >= 500 {
		logger.Error("auth request failed", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		})
	}
	c.JSON(status, gin.H{"error": msg})
}

// establishSession persists a local session for a resolved login and
// sets the session cookie.
func (h *Handler) establishSession(c *gin.Context, res *resolver.Resolution) error {
	sessionID, err := session.GenerateID()
	if err != nil {
		return err
	}

	now := time.Now()
	sess := session.Session{
		SessionID: sessionID,
		UserID:    res.UserID,
		Email:     res.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(h.sessionTTL),
	}
	if res.Session != nil {
		sess.AccessToken = res.Session.AccessToken
		sess.RefreshToken = res.Session.RefreshToken
	}

	if err := h.sessions.Create(c.Request.Context(), sess); err != nil {
		return err
	}

	session.SetCookie(c.Writer, sessionID, sess.ExpiresAt, session.CookieOptions{
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// destination runs the redirect policy for a resolved login.
func (h *Handler) destination(c *gin.Context, res *resolver.Resolution) string {
	state, err := h.profiles.VaultState(c.Request.Context(), res.UserID)
	if err != nil {
		logger.Warn("vault state read failed", map[string]any{
			"user":  res.UserID,
			"error": err.Error(),
		})
		state = profile.VaultNotStarted
	}
	return h.policy.Destination(state, res.ReturnURL)
}

// claimCookieReferral persists a referral that traveled by cookie when
// the flow record did not carry one (the OAuth round-trip loses local
// state, the cookie survives it).
func (h *Handler) claimCookieReferral(c *gin.Context, res *resolver.Resolution) {
	if res.Referral == "" {
		if code := h.refJar.Get(c.Request); code != "" {
			if err := h.profiles.SetReferral(c.Request.Context(), res.UserID, code); err != nil {
				logger.Error("failed to persist referral", map[string]any{
					"user":  res.UserID,
					"error": err.Error(),
				})
			}
		}
	}
	h.refJar.Clear(c.Writer)
}

func (h *Handler) setFlowCookie(c *gin.Context, flowID string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flowCookieName,
		Value:    flowID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(flowCookieTTL.Seconds()),
	})
}

func (h *Handler) clearFlowCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flowCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// currentFlow loads the attempt referenced by the flow cookie, or nil.
func (h *Handler) currentFlow(c *gin.Context) *flow.Flow {
	cookie, err := c.Request.Cookie(flowCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	f, err := h.flows.Get(c.Request.Context(), cookie.Value)
	if err != nil {
		logger.Warn("flow lookup failed", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return f
}

// finishLogin establishes the session and navigates per the redirect
// policy. Used by the browser-redirect paths; JSON endpoints answer
// in-place instead.
func (h *Handler) finishLogin(c *gin.Context, res *resolver.Resolution) {
	if err := h.establishSession(c, res); err != nil {
		h.fail(c, err)
		return
	}
	h.claimCookieReferral(c, res)

	logger.Info("login resolved", map[string]any{
		"user_id":     res.UserID,
		"is_new_user": res.IsNewUser,
	})
	c.Redirect(http.StatusFound, h.destination(c, res))
}

// callbackError routes an expired verification to its dedicated
// recovery path (resend, with the email preserved) instead of the
// generic failure handling.
func (h *Handler) callbackError(c *gin.Context, err error, email string) {
	if errors.Is(err, auth.ErrExpired) {
		c.Redirect(http.StatusFound, "/login?expired=true&email="+queryEscape(email))
		return
	}
	h.fail(c, err)
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}

func (h *Handler) logout(c *gin.Context) {
	cookie, err := c.Request.Cookie(session.CookieName)
	if err == nil && cookie.Value != "" {
		// best-effort
		_ = h.sessions.Delete(c.Request.Context(), cookie.Value)
	}

	session.ClearCookie(c.Writer, session.CookieOptions{
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	// Idempotent: logging out twice is still logged out.
	c.Status(http.StatusNoContent)
}

// MeHandler returns the authenticated user's profile summary. Wired
// behind the session middleware.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	p, err := h.profiles.Get(c.Request.Context(), userID)
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      p.ID,
		"email":        p.Email,
		"display_name": p.DisplayName,
		"avatar_url":   p.AvatarURL,
		"tier":         p.Tier,
		"credits":      p.Credits,
		"vault_state":  string(p.VaultState),
	})
}
