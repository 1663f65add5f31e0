// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// loginAttempts bounds the login retry loop. Only transport failures
// are retried; a rejected credential fails immediately.
const loginAttempts = 3

// TokenResponse is the body of a successful /token call.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Profile is the /users/me response.
type Profile struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	SubscriptionStatus   string `json:"subscription_status"`
	FreePromptsRemaining int    `json:"free_prompts_remaining"`
	SubscriptionExpires  string `json:"subscription_expires"`
}

// EntitlementStatus is the /free-messages/status response, the
// authoritative entitlement snapshot.
type EntitlementStatus struct {
	Subscription struct {
		HasSubscription bool   `json:"has_subscription"`
		Plan            string `json:"plan"`
		ExpiresAt       string `json:"expires_at"`
	} `json:"subscription"`
	FreeMessagesRemaining int `json:"free_messages_remaining"`
}

// Login exchanges credentials for a bearer token via the OAuth2
// password grant. Transport failures retry with doubling backoff up to
// loginAttempts; credential rejections surface immediately with the
// backend's detail.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)

	var lastErr error
	for attempt := 0; attempt < loginAttempts; attempt++ {
		if attempt > 0 {
			c.log.Debug().Int("attempt", attempt+1).Msg("retrying login")
			select {
			case <-time.After(calculateBackoff(attempt - 1)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		token, err := c.loginOnce(ctx, form)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if !errors.Is(err, ErrNetwork) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) loginOnce(ctx context.Context, form url.Values) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// A 401 here is wrong credentials, not an expired session
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		var body errorBody
		if err := json.Unmarshal(data, &body); err == nil && body.text() != "" {
			return "", &APIError{Status: resp.StatusCode, Detail: body.text()}
		}
		return "", &APIError{Status: resp.StatusCode, Detail: "login failed"}
	}

	var tr TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrProtocol)
	}
	return tr.AccessToken, nil
}

// Register creates an account. The caller follows up with Login; the
// backend does not issue a token on registration.
func (c *Client) Register(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respData, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		var eb errorBody
		if err := json.Unmarshal(respData, &eb); err == nil && eb.text() != "" {
			return &APIError{Status: resp.StatusCode, Detail: eb.text()}
		}
		return &APIError{Status: resp.StatusCode, Detail: "registration failed"}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	return nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FreeMessagesStatus fetches the authoritative entitlement snapshot.
func (c *Client) FreeMessagesStatus(ctx context.Context) (*EntitlementStatus, error) {
	var s EntitlementStatus
	if err := c.doJSON(ctx, http.MethodGet, "/free-messages/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
