package handler

import (
	"net/http"

	"vault-auth/internal/gateway"
	"vault-auth/internal/logger"
	"vault-auth/internal/session"

	"github.com/gin-gonic/gin"
)

// oauthLogin starts the OAuth handoff: full-page redirect to the
// gateway. The caller must navigate, not fetch; OAuth requires a
// top-level browser redirect.
func (h *Handler) oauthLogin(c *gin.Context) {
	provider := c.Param("provider")
	returnURL := c.Query("returnUrl")
	ref := c.Query("ref")

	state := h.generateState(c)
	_, codeChallenge := h.generatePKCE(c)

	res, err := h.builder.BeginOAuth(
		c.Request.Context(),
		provider,
		returnURL,
		ref,
		state,
		codeChallenge,
	)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setFlowCookie(c, res.Flow.ID)
	if res.Referral != "" {
		h.refJar.Set(c.Writer, res.Referral)
	}

	c.Redirect(http.StatusFound, res.RedirectURL)
}

// callback finishes any emailed-link or OAuth handoff. Every query
// parameter here is untrusted input.
func (h *Handler) callback(c *gin.Context) {
	f := h.currentFlow(c)

	// CASE 1: the gateway reported an error instead of a code.
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("gateway callback returned error", map[string]any{
			"error": errParam,
			"desc":  c.Query("error_description"),
		})
		c.Redirect(http.StatusFound, "/login")
		return
	}

	// CASE 2: an expired magic link landed here. Hand the email back
	// to the sign-in page so resend does not re-prompt for it.
	if c.Query("expired") == "true" {
		email := c.Query("email")
		if f != nil && f.SubjectHint != "" {
			email = f.SubjectHint
		}
		c.Redirect(http.StatusFound, "/login?expired=true&email="+queryEscape(email))
		return
	}

	// CASE 3: magic-link token verification.
	if token := c.Query("token"); token != "" {
		email := c.Query("email")
		if email == "" && f != nil {
			email = f.SubjectHint
		}
		res, err := h.resolver.ResolveOTP(c.Request.Context(), f, email, token, gateway.VerifyMagicLink)
		if err != nil {
			h.callbackError(c, err, email)
			return
		}
		h.finishLogin(c, res)
		return
	}

	// CASE 4: OAuth authorization code.
	if code := c.Query("code"); code != "" {
		if !validateState(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid state"})
			return
		}
		codeVerifier := getPKCEVerifier(c)
		if codeVerifier == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing pkce verifier"})
			return
		}

		res, err := h.resolver.ResolveOAuth(c.Request.Context(), f, code, codeVerifier)
		if err != nil {
			h.callbackError(c, err, "")
			return
		}
		h.finishLogin(c, res)
		return
	}

	// CASE 5: nothing usable in the query. A remount after a completed
	// login is still success if the browser holds a live session.
	if cookie, err := c.Request.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		if sess, err := h.sessions.Get(c.Request.Context(), cookie.Value); err == nil && sess != nil {
			res, err := h.resolver.ResolveExisting(c.Request.Context(), f, sess.AccessToken)
			if err == nil {
				c.Redirect(http.StatusFound, h.destination(c, res))
				return
			}
		}
	}

	logger.Error("callback missing code, token and error", nil)
	c.AbortWithStatus(http.StatusBadRequest)
}
