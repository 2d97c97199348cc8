// Package idam resolves opaque user identifiers to display details for
// audit attribution, and lists the users holding a given role.
package idam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hmcts/refunds-api/internal/client"
	"github.com/hmcts/refunds-api/internal/shared/config"
	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// ErrUserNotFound is returned when the identity provider has no user for
// the given id.
var ErrUserNotFound = errors.New("user not found")

// User is the identity provider's view of a user.
type User struct {
	ID       string   `json:"id"`
	Forename string   `json:"forename"`
	Surname  string   `json:"surname"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Active   bool     `json:"active"`
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	return u.Forename + " " + u.Surname
}

// Client calls the identity provider.
type Client struct {
	caller *client.Caller
	logger *zap.Logger
}

// New creates an idam client.
func New(cfg config.IdamClientConfig, httpClient *http.Client, tokens oauth2.TokenSource, breakerCfg config.BreakerConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		caller: client.NewCaller("idam", cfg.BaseURL, httpClient, tokens, breakerCfg, m, logger),
		logger: logger,
	}
}

// UserDetails fetches one user by id.
func (c *Client) UserDetails(ctx context.Context, uid string) (*User, error) {
	var user User
	err := c.caller.DoJSON(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(uid), nil, &user)
	if err != nil {
		if client.IsStatus(err, http.StatusNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", uid, err)
	}
	return &user, nil
}

// UsersWithRole lists the users holding the given role.
func (c *Client) UsersWithRole(ctx context.Context, role string) ([]User, error) {
	var users []User
	path := "/api/v1/users?role=" + url.QueryEscape(role)
	if err := c.caller.DoJSON(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, fmt.Errorf("list users with role %s: %w", role, err)
	}
	return users, nil
}
