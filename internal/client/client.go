// Package client is a small HTTP client for the Timekeeper REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server reports an unknown session.
var ErrNotFound = errors.New("session not found")

// Session mirrors the server's session snapshot.
type Session struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Kind       string    `json:"kind" yaml:"kind"`
	Phase      string    `json:"phase" yaml:"phase"`
	Display    string    `json:"display" yaml:"display"`
	ValueMS    int64     `json:"value_ms" yaml:"value_ms"`
	DurationMS int64     `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Event is one stored lifecycle event.
type Event struct {
	ID        int64                  `json:"id" yaml:"id"`
	SessionID string                 `json:"aggregate_id" yaml:"session_id"`
	Type      string                 `json:"event_type" yaml:"type"`
	Data      map[string]interface{} `json:"event_data" yaml:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at" yaml:"created_at"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to one Timekeeper server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a client for baseURL. An empty apiKey sends no credentials.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// List returns every session.
func (c *Client) List(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Get returns one session.
func (c *Client) Get(ctx context.Context, id string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &s)
	return s, err
}

// Create makes a new session. d is ignored for stopwatches; zero leaves a
// countdown unconfigured.
func (c *Client) Create(ctx context.Context, name, kind string, d time.Duration) (Session, error) {
	body := map[string]interface{}{"name": name, "kind": kind}
	if kind == "countdown" && d > 0 {
		body["duration_ms"] = d.Milliseconds()
	}
	var s Session
	err := c.do(ctx, http.MethodPost, "/api/sessions", body, &s)
	return s, err
}

// Start starts or resumes a session.
func (c *Client) Start(ctx context.Context, id string) (Session, error) {
	return c.command(ctx, id, "start")
}

// Stop pauses a running session.
func (c *Client) Stop(ctx context.Context, id string) (Session, error) {
	return c.command(ctx, id, "stop")
}

// Reset returns a session to idle.
func (c *Client) Reset(ctx context.Context, id string) (Session, error) {
	return c.command(ctx, id, "reset")
}

// SetDuration configures a countdown.
func (c *Client) SetDuration(ctx context.Context, id string, d time.Duration) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPut, sessionPath(id, "duration"), map[string]int64{"duration_ms": d.Milliseconds()}, &s)
	return s, err
}

// Delete removes a session.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// Events returns the newest limit stored events of a session, oldest first.
func (c *Client) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	path := sessionPath(id, "events")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) command(ctx context.Context, id, action string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, action), nil, &s)
	return s, err
}

func sessionPath(id, action string) string {
	p := "/api/sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Timekeeper API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
