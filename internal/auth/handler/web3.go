package handler

import (
	"errors"
	"net/http"
	"strings"

	"vault-auth/internal/auth"
	"vault-auth/internal/auth/resolver"
	"vault-auth/internal/auth/wallet"
	"vault-auth/internal/logger"
	"vault-auth/internal/profile"
	"vault-auth/internal/referral"

	"github.com/gin-gonic/gin"
)

// walletEmailDomain synthesizes gateway accounts for wallet-only users.
const walletEmailDomain = "@wallet.internal"

func (h *Handler) web3Nonce(c *gin.Context) {
	address := c.Query("address")

	message, err := h.verifier.Challenge(c.Request.Context(), address)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": strings.ToLower(address),
		"message": message,
	})
}

type web3LoginRequest struct {
	Address      string `json:"address"`
	Signature    string `json:"signature"`
	Message      string `json:"message"`
	ReferralCode string `json:"referralCode"`
}

// web3Login is the wallet sign-in endpoint. Verification runs before
// any account lookup so the response carries no signal about whether
// the address is known.
func (h *Handler) web3Login(c *gin.Context) {
	var req web3LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		req.Address == "" || req.Signature == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
		return
	}

	sig, err := wallet.ParseSignature(req.Signature)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if err := h.verifier.Verify(c.Request.Context(), req.Address, req.Message, sig); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	address := strings.ToLower(req.Address)
	ctx := c.Request.Context()

	userID, err := h.profiles.UserIDByWallet(ctx, address)
	isNew := false
	switch {
	case errors.Is(err, profile.ErrNotFound):
		isNew = true
		userID, err = h.createWalletAccount(c, address)
		if err != nil {
			h.web3Error(c, err)
			return
		}
	case err != nil:
		h.web3Error(c, err)
		return
	}

	sess, err := h.admin.AdminCreateSession(ctx, userID)
	if err != nil {
		h.web3Error(c, err)
		return
	}

	res := &resolver.Resolution{
		UserID:    userID,
		Email:     sess.Identity.Email,
		IsNewUser: isNew,
		Session:   sess,
	}
	if err := h.establishSession(c, res); err != nil {
		h.web3Error(c, err)
		return
	}

	// The signature is the verification; a referral on this request
	// attaches to a verified login by definition.
	if code := referral.Normalize(req.ReferralCode); code != "" {
		if err := h.profiles.SetReferral(ctx, userID, code); err != nil {
			logger.Error("failed to persist referral", map[string]any{
				"user":  userID,
				"error": err.Error(),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"isNewUser": isNew,
		"address":   address,
	})
}

// createWalletAccount provisions a gateway virtual account for a new
// address and records the keyed wallet→user mapping.
func (h *Handler) createWalletAccount(c *gin.Context, address string) (string, error) {
	ctx := c.Request.Context()

	email := address + walletEmailDomain
	user, err := h.admin.AdminCreateUser(ctx, email, map[string]string{
		"wallet_address": address,
	})
	if err != nil {
		// A previous attempt may have created the gateway account and
		// died before the local bookkeeping finished. Recover it
		// instead of stranding the address.
		existing, lookupErr := h.admin.AdminGetUserByEmail(ctx, email)
		if lookupErr != nil {
			return "", err
		}
		user = existing
	}

	identity := auth.Identity{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: shortAddress(address),
	}
	if _, err := h.profiles.Get(ctx, user.ID); errors.Is(err, profile.ErrNotFound) {
		if _, err := h.profiles.Create(ctx, identity); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	if err := h.profiles.LinkWallet(ctx, address, user.ID); err != nil {
		return "", err
	}
	return user.ID, nil
}

// web3Error keeps this endpoint's contract: gateway and storage
// problems are a plain 500, with no detail that could distinguish
// known from unknown addresses.
func (h *Handler) web3Error(c *gin.Context, err error) {
	logger.Error("web3 login failed", map[string]any{
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func shortAddress(address string) string {
	if len(address) < 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
