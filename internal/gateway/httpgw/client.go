package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/gateway"
	"vault-auth/internal/logger"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Config wires the client to one managed auth backend.
type Config struct {
	// BaseURL is the gateway root, e.g. https://auth.vault.example.
	BaseURL string

	// APIKey is sent on every browser-grade request.
	APIKey string

	// ServiceKey authorizes the admin surface. Server-side only.
	ServiceKey string

	// JWTSecret verifies gateway-issued HS256 access tokens.
	JWTSecret string

	// Issuer, when set, enables OIDC discovery and ID-token
	// verification on the OAuth exchange path.
	Issuer string

	// ClientID and RedirectURL are the OAuth client registration at
	// the gateway. RedirectURL must be this service's callback route.
	ClientID    string
	RedirectURL string

	// Providers is the set of OAuth provider names the gateway is
	// configured to broker for this product.
	Providers []string

	HTTPClient *http.Client
}

// Client implements gateway.IdentityGateway and gateway.AdminAPI over
// the gateway's HTTP API.
type Client struct {
	cfg       Config
	http      *http.Client
	oauth     *oauth2.Config
	verifier  *oidc.IDTokenVerifier
	providers map[string]bool
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.JWTSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("gateway config missing required fields")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	endpoint := oauth2.Endpoint{
		AuthURL:  cfg.BaseURL + "/authorize",
		TokenURL: cfg.BaseURL + "/token",
	}

	var verifier *oidc.IDTokenVerifier
	if cfg.Issuer != "" {
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("gateway oidc discovery failed: %w", err)
		}
		endpoint = provider.Endpoint()
		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Endpoint:    endpoint,
		Scopes:      []string{oidc.ScopeOpenID, "profile", "email"},
	}

	providers := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p] = true
	}

	return &Client{
		cfg:       cfg,
		http:      cfg.HTTPClient,
		oauth:     oauthCfg,
		verifier:  verifier,
		providers: providers,
	}, nil
}

// Providers returns the configured OAuth provider names.
func (c *Client) Providers() []string {
	out := make([]string, 0, len(c.providers))
	for p := range c.providers {
		out = append(out, p)
	}
	return out
}

// HasProvider reports whether the gateway brokers the named provider.
func (c *Client) HasProvider(name string) bool {
	return c.providers[name]
}

func (c *Client) OAuthURL(provider, state, codeChallenge string) (string, error) {
	if !c.providers[provider] {
		return "", fmt.Errorf("%w: unknown oauth provider %q", auth.ErrInvalidInput, provider)
	}
	return c.oauth.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*gateway.Session, error) {
	token, err := c.oauth.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		logger.Error("gateway code exchange failed", map[string]any{
			"error": err.Error(),
		})
		return nil, classifyOAuthError(err)
	}

	if c.verifier != nil {
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return nil, fmt.Errorf("%w: gateway did not return id_token", auth.ErrAuthenticationFailed)
		}
		if _, err := c.verifier.Verify(ctx, rawIDToken); err != nil {
			return nil, fmt.Errorf("%w: id_token verification: %v", auth.ErrAuthenticationFailed, err)
		}
	}

	return c.sessionFromTokens(token.AccessToken, token.RefreshToken, token.Expiry)
}

func (c *Client) SignInWithOTP(ctx context.Context, email string) error {
	return c.post(ctx, "/otp", map[string]any{
		"email":       email,
		"create_user": true,
	}, nil)
}

func (c *Client) SendMagicLink(ctx context.Context, email, redirectTo string) error {
	return c.post(ctx, "/magiclink", map[string]any{
		"email":       email,
		"redirect_to": redirectTo,
		"create_user": true,
	}, nil)
}

func (c *Client) VerifyOTP(ctx context.Context, email, token string, kind gateway.VerifyKind) (*gateway.Session, error) {
	var resp tokenResponse
	err := c.post(ctx, "/verify", map[string]any{
		"type":  string(kind),
		"email": email,
		"token": token,
	}, &resp)
	if err != nil {
		return nil, err
	}

	expiry := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.sessionFromTokens(resp.AccessToken, resp.RefreshToken, expiry)
}

func (c *Client) GetSession(ctx context.Context, accessToken string) (*gateway.Session, error) {
	if accessToken == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.cfg.APIKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, nil // no session established yet
	}
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", auth.ErrGatewayUnavailable, res.StatusCode)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", auth.ErrAuthenticationFailed, res.StatusCode)
	}

	return c.sessionFromTokens(accessToken, "", time.Time{})
}

// sessionFromTokens verifies the access token against the shared
// secret and builds a session from its claims. The token is the source
// of truth for the stable user id; the service never re-derives it.
func (c *Client) sessionFromTokens(accessToken, refreshToken string, expiry time.Time) (*gateway.Session, error) {
	claims, err := c.parseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	if expiry.IsZero() && claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	name, _ := claims.UserMetadata["full_name"].(string)
	avatar, _ := claims.UserMetadata["avatar_url"].(string)

	return &gateway.Session{
		Identity: auth.Identity{
			UserID:        claims.Subject,
			Email:         claims.Email,
			EmailVerified: claims.EmailVerified,
			DisplayName:   name,
			AvatarURL:     avatar,
		},
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiry,
	}, nil
}

type accessClaims struct {
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	UserMetadata  map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

func (c *Client) parseAccessToken(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(c.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %v", auth.ErrAuthenticationFailed, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: access token missing sub", auth.ErrAuthenticationFailed)
	}
	return claims, nil
}

// --- transport ---

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type gatewayError struct {
	Code    string `json:"error_code"`
	Message string `json:"msg"`
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return classifyStatus(res.StatusCode, res.Body)
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", auth.ErrGatewayUnavailable, err)
		}
	}
	return nil
}

// classifyStatus maps gateway error responses onto the auth taxonomy.
func classifyStatus(status int, body io.Reader) error {
	var ge gatewayError
	_ = json.NewDecoder(body).Decode(&ge)

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", auth.ErrRateLimited, ge.Message)
	case ge.Code == "otp_expired" || ge.Code == "link_expired":
		return fmt.Errorf("%w: %s", auth.ErrExpired, ge.Message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, ge.Message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", auth.ErrAuthenticationFailed, ge.Message)
	case status >= 500:
		return fmt.Errorf("%w: status %d", auth.ErrGatewayUnavailable, status)
	default:
		return fmt.Errorf("%w: status %d: %s", auth.ErrAuthenticationFailed, status, ge.Message)
	}
}

func classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return classifyStatus(retrieveErr.Response.StatusCode, bytes.NewReader(retrieveErr.Body))
	}
	return fmt.Errorf("%w: %v", auth.ErrGatewayUnavailable, err)
}
