// Package api is the typed client for the wallet backend's auth and profile
// endpoints. All calls go through the gateway so they carry the session
// token and locale and report expired sessions.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raine/walletfront/internal/gateway"
	"github.com/raine/walletfront/internal/oauth"
	"github.com/raine/walletfront/internal/session"
)

const (
	loginPath         = "/api/auth/login"
	registerPath      = "/api/auth/register"
	resetPasswordPath = "/api/auth/reset-password"
	logoutPath        = "/api/auth/logout"
	userInfoPath      = "/api/user/info"
	oauthPathPrefix   = "/api/auth/"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Code       string `json:"code,omitempty"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type ResetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// oauthRequest is the credential exchange payload for all providers.
type oauthRequest struct {
	Token     string            `json:"token,omitempty"`
	TokenType string            `json:"tokenType,omitempty"`
	Code      string            `json:"code,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
}

type Client struct {
	gw *gateway.Gateway
}

func NewClient(gw *gateway.Gateway) *Client {
	return &Client{gw: gw}
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (session.Credential, error) {
	if req.Email == "" || req.Password == "" {
		return session.Credential{}, errors.New("email and password are required")
	}
	return c.credential(ctx, loginPath, req)
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (session.Credential, error) {
	if req.Email == "" || req.Password == "" {
		return session.Credential{}, errors.New("email and password are required")
	}
	return c.credential(ctx, registerPath, req)
}

// ResetPassword sets a new password using an emailed verification code.
// The backend signs the user in on success.
func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) (session.Credential, error) {
	if req.Email == "" || req.Code == "" || req.Password == "" {
		return session.Credential{}, errors.New("email, code and password are required")
	}
	return c.credential(ctx, resetPasswordPath, req)
}

// UserInfo fetches the profile of userID.
func (c *Client) UserInfo(ctx context.Context, userID string) (*session.UserProfile, error) {
	profile, err := gateway.Get[*session.UserProfile](ctx, c.gw, userInfoPath, map[string]string{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if profile == nil {
		return nil, errors.New("user info response had no data")
	}
	return profile, nil
}

// ExchangeOAuth trades a provider handshake for a backend session.
func (c *Client) ExchangeOAuth(ctx context.Context, msg oauth.Message) (session.Credential, error) {
	var body oauthRequest
	switch m := msg.(type) {
	case oauth.GoogleAuth, oauth.FacebookAuth:
		w := oauth.ToWire(m)
		body = oauthRequest{Token: w.Token, TokenType: w.TokenType, Code: w.Code}
	case oauth.TelegramAuth:
		if _, err := m.User(); err != nil {
			return session.Credential{}, err
		}
		body = oauthRequest{Claims: m.Claims}
	case oauth.AuthError:
		return session.Credential{}, m
	default:
		return session.Credential{}, fmt.Errorf("unsupported oauth message %T", msg)
	}
	return c.credential(ctx, oauthPathPrefix+string(msg.Provider()), body)
}

// Logout invalidates the token server-side. Callers clear the local session
// regardless of the result.
func (c *Client) Logout(ctx context.Context) error {
	_, err := gateway.Post[any](ctx, c.gw, logoutPath, nil)
	return err
}

func (c *Client) credential(ctx context.Context, path string, body any) (session.Credential, error) {
	cred, err := gateway.Post[session.Credential](ctx, c.gw, path, body)
	if err != nil {
		return session.Credential{}, err
	}
	if strings.TrimSpace(cred.Token) == "" {
		return session.Credential{}, fmt.Errorf("%s: response had no token", path)
	}
	return cred, nil
}

var (
	_ session.ProfileFetcher = (*Client)(nil)
	_ oauth.Exchanger        = (*Client)(nil)
)
