// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ======
// SHARED HTTP CLIENTS
// ======

// PERFORMANCE: Shared HTTP clients enable connection pooling.
// The streaming client carries no timeout: a legal answer may stream
// for minutes, and cancellation is context-driven.
var (
	sharedHTTPClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	sharedStreamClient = &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
)

// maxResponseSize caps non-streaming response bodies.
const maxResponseSize = 10 * 1024 * 1024

// TokenSource supplies the current bearer token. The session manager
// implements it; tests use a literal.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource with a fixed value.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// Client talks to the Wakili backend. It is an explicit dependency:
// construct one at the application root and pass it down, never hold
// it as hidden shared state.
type Client struct {
	baseURL      string
	tokens       TokenSource
	httpClient   *http.Client
	streamClient *http.Client
	log          zerolog.Logger
}

// NewClient creates a client for the given backend base URL.
func NewClient(baseURL string, tokens TokenSource, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		tokens:       tokens,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamClient,
		log:          log,
	}
}

// WithHTTPClient overrides the non-streaming HTTP client. Used by
// tests to inject short timeouts.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithStreamClient overrides the streaming HTTP client.
func (c *Client) WithStreamClient(hc *http.Client) *Client {
	c.streamClient = hc
	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ======
// REQUEST PLUMBING
// ======

// setHeaders applies the standard headers. Authenticated calls carry
// the bearer token; its absence fails fast with ErrNotAuthenticated
// before any network traffic.
func (c *Client) setHeaders(req *http.Request, authenticated bool) error {
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		token := c.tokens.Token()
		if token == "" {
			return ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// doJSON issues an authenticated JSON request and decodes the response
// into out (out may be nil for void endpoints).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.setHeaders(req, true); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorBody is the backend's error envelope. Different endpoints use
// different field names; all three are recognized.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (b errorBody) text() string {
	switch {
	case b.Detail != "":
		return b.Detail
	case b.Message != "":
		return b.Message
	default:
		return b.Error
	}
}

// handleErrorResponse turns a non-2xx response into a typed error.
// SECURITY: A 401 from any endpoint is a uniform dead-session signal.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: please log in again", ErrAuthExpired)
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.text() != "" {
		c.log.Debug().Int("status", resp.StatusCode).Str("detail", body.text()).Msg("backend error")
		return &APIError{Status: resp.StatusCode, Detail: body.text()}
	}
	return &APIError{Status: resp.StatusCode}
}

// calculateBackoff returns the delay before retry attempt n, doubling
// from a one second base.
func calculateBackoff(attempt int) time.Duration {
	backoff := time.Second * (1 << attempt)
	if backoff > 10*time.Second {
		backoff = 10 * time.Second
	}
	return backoff
}
