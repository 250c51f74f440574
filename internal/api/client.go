// Package api is the HTTP client for the auth and history endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
)

// APIError is a non-2xx response. Detail is the server's human-readable
// explanation, when it sent one.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Detail, e.StatusCode)
}

// Client talks to the chat server's REST surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, username, password string) (model.Session, error) {
	var session model.Session
	err := c.postJSON(ctx, "/login", credentials{Username: username, Password: password}, &session)
	if err != nil {
		return model.Session{}, err
	}
	return session, nil
}

// Register creates an account. Logging in is a separate call.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.postJSON(ctx, "/register", credentials{Username: username, Password: password}, nil)
}

// RecentMessages fetches the ordered message backlog. It satisfies the
// engine's history fetcher contract.
func (c *Client) RecentMessages(ctx context.Context) ([]model.ChatMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: history fetch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, decodeError(res)
	}

	var messages []model.ChatMessage
	if err := json.NewDecoder(res.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("api: decode history: %w", err)
	}
	return messages, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res)
	}

	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

func decodeError(res *http.Response) error {
	apiErr := &APIError{StatusCode: res.StatusCode}

	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil {
		apiErr.Detail = body.Detail
	}
	return apiErr
}
