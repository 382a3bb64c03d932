package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Authenticate exchanges the client credentials for a bearer token.
// Failures are returned as *AuthError.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	creds := c.cfg.Credentials
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.TSGID == "" {
		return &AuthError{Message: "client id, client secret and tsg id are required"}
	}

	form := "grant_type=client_credentials&scope=tsg_id:" + url.QueryEscape(creds.TSGID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form))
	if err != nil {
		return &AuthError{Err: err}
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &AuthError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AuthError{Err: fmt.Errorf("failed to read token response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return &AuthError{Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return &AuthError{StatusCode: resp.StatusCode, Message: "response has no access_token"}
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	c.token = tr.AccessToken
	c.expiresAt = c.clock.Now().Add(expiresIn)

	c.logger.Debug().Dur("expires_in", expiresIn).Msg("acquired access token")
	return nil
}

// accessToken returns a token that stays valid for at least the refresh
// margin, authenticating when needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.clock.Now().Add(c.cfg.RefreshMargin).Before(c.expiresAt) {
		return c.token, nil
	}
	if err := c.authenticateLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
