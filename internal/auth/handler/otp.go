package handler

import (
	"net/http"

	"vault-auth/internal/gateway"

	"github.com/gin-gonic/gin"
)

type otpSendRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) otpSend(c *gin.Context) {
	var req otpSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	f, err := h.builder.SendOTP(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setFlowCookie(c, f.ID)

	// No token ever reaches this response; the code goes to the inbox.
	c.JSON(http.StatusAccepted, gin.H{
		"status": "awaiting_verification",
		"email":  req.Email,
	})
}

type otpVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	Token string `json:"token" binding:"required"`
}

func (h *Handler) otpVerify(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	f := h.currentFlow(c)

	res, err := h.resolver.ResolveOTP(c.Request.Context(), f, req.Email, req.Token, gateway.VerifyEmailOTP)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := h.establishSession(c, res); err != nil {
		h.fail(c, err)
		return
	}
	h.claimCookieReferral(c, res)

	c.JSON(http.StatusOK, gin.H{
		"status":      "authenticated",
		"is_new_user": res.IsNewUser,
		"redirect_to": h.destination(c, res),
	})
}

// resend re-dispatches verification for an expired attempt. The email
// comes from the stored flow, never from the request, so the user is
// not re-prompted and the address cannot be swapped mid-flow.
func (h *Handler) resend(c *gin.Context) {
	f := h.currentFlow(c)
	if f == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no sign-in attempt to resend"})
		return
	}

	if err := h.builder.Resend(c.Request.Context(), f); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "awaiting_verification",
		"email":  f.SubjectHint,
	})
}
