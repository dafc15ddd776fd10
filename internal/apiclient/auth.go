package apiclient

import (
	"context"
	"net/http"
)

// AuthTokens is the pair returned by the login and refresh flows. Auth POSTs
// never carry an Idempotency-Key: replaying a login as a black-box POST is
// not safe to deduplicate.
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthTokens, error) {
	var out AuthTokens
	err := c.Do(ctx, "/v1/auth/login", CallOptions{
		Method:   http.MethodPost,
		Body:     map[string]any{"email": email, "password": password},
		SkipAuth: true,
		Out:      &out,
	})
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (AuthTokens, error) {
	var out AuthTokens
	err := c.Do(ctx, "/v1/auth/refresh", CallOptions{
		Method:   http.MethodPost,
		Body:     map[string]any{"refreshToken": refreshToken},
		SkipAuth: true,
		Out:      &out,
	})
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, "/v1/auth/logout", CallOptions{Method: http.MethodPost})
}
