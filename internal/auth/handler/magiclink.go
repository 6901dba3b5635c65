package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type magicLinkRequest struct {
	Email         string `json:"email" binding:"required"`
	ReturnURL     string `json:"returnUrl"`
	AcceptedTerms bool   `json:"acceptedTerms"`
	Ref           string `json:"ref"`
}

func (h *Handler) magicLink(c *gin.Context) {
	var req magicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	f, err := h.builder.SendMagicLink(
		c.Request.Context(),
		req.Email,
		req.ReturnURL,
		req.AcceptedTerms,
		req.Ref,
	)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setFlowCookie(c, f.ID)
	if f.Referral != "" {
		h.refJar.Set(c.Writer, f.Referral)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "awaiting_verification",
		"email":  req.Email,
	})
}
