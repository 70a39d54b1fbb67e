package gateway

import (
	"context"
	"fmt"
	"strings"
)

// PathLogin is the anonymous login endpoint exchanging a login code for a token.
const PathLogin = "/user/login/wechat"

// LoginCodeSource provides one-time login codes from the host platform.
type LoginCodeSource interface {
	LoginCode(ctx context.Context) (string, error)
}

// StaticLoginCode is a LoginCodeSource returning a fixed code.
type StaticLoginCode string

// LoginCode returns the fixed code.
func (code StaticLoginCode) LoginCode(context.Context) (string, error) {
	trimmed := strings.TrimSpace(string(code))
	if trimmed == "" {
		return "", ErrLoginCodeUnavailable
	}
	return trimmed, nil
}

type loginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
	IsNewUser bool   `json:"is_new_user"`
}

// Login exchanges a login code for a token and establishes the session.
func (client *Client) Login(ctx context.Context, source LoginCodeSource) (Identity, error) {
	if source == nil {
		return Identity{}, fmt.Errorf("%w: login code source is nil", ErrLoginCodeUnavailable)
	}
	code, err := source.LoginCode(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrLoginCodeUnavailable, err)
	}
	envelope := client.Call(ctx, Request{
		Path:      PathLogin,
		Method:    MethodPost,
		Payload:   map[string]any{"code": code},
		Anonymous: true,
	})
	var response loginResponse
	if err := envelope.Decode(&response); err != nil {
		return Identity{}, WrapError("login", "session", "exchange", err)
	}
	if strings.TrimSpace(response.Token) == "" {
		return Identity{}, WrapError("login", "session", "exchange", ErrMissingToken)
	}
	identity := Identity{
		UserID:    response.UserID,
		Nickname:  response.Nickname,
		AvatarURL: response.AvatarURL,
		IsNewUser: response.IsNewUser,
	}
	if err := client.session.establish(ctx, response.Token, identity); err != nil {
		return identity, err
	}
	return identity, nil
}

// Logout drops the session locally. The API keeps no server-side session.
func (client *Client) Logout(ctx context.Context) error {
	_, err := client.session.invalidate(ctx)
	return err
}

// Authenticator performs login round trips for a Client.
type Authenticator struct {
	client *Client
	source LoginCodeSource
}

// NewAuthenticator wires an Authenticator.
func NewAuthenticator(client *Client, source LoginCodeSource) (*Authenticator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client dependency is nil", ErrInvalidConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: login code source is nil", ErrInvalidConfig)
	}
	return &Authenticator{client: client, source: source}, nil
}

// Authenticate signs in and establishes the session.
func (authenticator *Authenticator) Authenticate(ctx context.Context) error {
	_, err := authenticator.client.Login(ctx, authenticator.source)
	return err
}
