package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/gateway"
)

// ErrUserNotFound is returned by AdminGetUserByEmail when the gateway
// has no account for the address.
var ErrUserNotFound = errors.New("gateway user not found")

type adminUser struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"app_metadata"`
}

func (u adminUser) toUser() *gateway.User {
	return &gateway.User{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		Metadata:  u.Metadata,
	}
}

func (c *Client) AdminCreateUser(ctx context.Context, email string, metadata map[string]string) (*gateway.User, error) {
	var out adminUser
	err := c.adminDo(ctx, http.MethodPost, "/admin/users", map[string]any{
		"email":         email,
		"email_confirm": true,
		"app_metadata":  metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.toUser(), nil
}

func (c *Client) AdminGetUserByEmail(ctx context.Context, email string) (*gateway.User, error) {
	var out struct {
		Users []adminUser `json:"users"`
	}
	path := "/admin/users?email=" + url.QueryEscape(email)
	if err := c.adminDo(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, ErrUserNotFound
	}
	return out.Users[0].toUser(), nil
}

func (c *Client) AdminCreateSession(ctx context.Context, userID string) (*gateway.Session, error) {
	var out tokenResponse
	path := "/admin/users/" + url.PathEscape(userID) + "/sessions"
	if err := c.adminDo(ctx, http.MethodPost, path, map[string]any{}, &out); err != nil {
		return nil, err
	}
	expiry := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return c.sessionFromTokens(out.AccessToken, out.RefreshToken, expiry)
}

// adminDo issues a service-key-authorized request. The service key must
// never reach browser-facing responses; errors are classified before
// they leave this package.
func (c *Client) adminDo(ctx context.Context, method, path string, body any, out any) error {
	if c.cfg.ServiceKey == "" {
		return errors.New("gateway admin api not configured")
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)

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
