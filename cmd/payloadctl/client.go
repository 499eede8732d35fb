package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenSlack renews the access token this long before it expires.
const tokenSlack = 30 * time.Second

// APIError is a non-2xx reply from the Payload Core API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the Payload Core HTTP API. It exchanges its key for an
// access token on first use and again whenever the token expires or is
// rejected.
type Client struct {
	base   string
	key    string
	name   string
	client *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClient creates a Client for the API rooted at base (e.g. http://host:8080).
func NewClient(base, key, name string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API address %q", base)
	}
	return &Client{
		base:   strings.TrimRight(base, "/") + "/api/v1",
		key:    key,
		name:   name,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Health calls the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.send(ctx, http.MethodGet, "/health", nil, "")
}

// Call performs an authenticated request and returns the raw JSON reply.
func (c *Client) Call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.accessToken(ctx, false)
	if err != nil {
		return nil, err
	}
	out, err := c.send(ctx, method, path, body, token)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if token, err = c.accessToken(ctx, true); err != nil {
			return nil, err
		}
		return c.send(ctx, method, path, body, token)
	}
	return out, err
}

func (c *Client) accessToken(ctx context.Context, renew bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !renew && c.token != "" && time.Until(c.expires) > tokenSlack {
		return c.token, nil
	}
	if c.key == "" {
		return "", errors.New("no API key configured (use -key or PAYLOAD_CTL_KEY)")
	}

	raw, err := c.send(ctx, http.MethodPost, "/auth/token", map[string]string{
		"key":    c.key,
		"client": c.name,
	}, "")
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Role        string `json:"role"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("token exchange: empty token")
	}
	c.token = resp.AccessToken
	c.expires = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return data, nil
}
