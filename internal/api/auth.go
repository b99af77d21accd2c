package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/crm-console/internal/model"
)

// Login exchanges email and password for a bearer token. It never sends the
// stored token, so a rejected login does not trigger the unauthorized handler.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	r := request{
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      LoginRequest{Email: email, Password: password},
		anonymous: true,
	}
	if err := c.call(ctx, r, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return nil, errors.New("login: response missing token")
	}
	return &resp, nil
}

// Me fetches the user owning the current token.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.get(ctx, "/auth/me", nil, &user); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return &user, nil
}
