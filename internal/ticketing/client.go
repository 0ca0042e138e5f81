// Package ticketing is a thin request builder/executor for the ticketing
// platform's REST API: targets, triggers, users, and tickets. It holds no
// state beyond credentials; every call is a single HTTP round trip.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the credentials and location of the ticketing platform account.
type Config struct {
	Subdomain string // Account subdomain ("acme" for acme.zendesk.com)
	Username  string // Account user the API token belongs to
	Token     string // API token; sent as Basic auth "{username}/token:{token}"
	BaseURL   string // Optional API base URL override (tests); derived from Subdomain when empty
}

// Client executes requests against the ticketing platform API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	token      string
}

// NewClient creates a ticketing API client from the given config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Username == "" || cfg.Token == "" {
		return nil, fmt.Errorf("ticketing username and token are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Subdomain == "" {
			return nil, fmt.Errorf("ticketing subdomain is required")
		}
		baseURL = fmt.Sprintf("https://%s.zendesk.com/api/v2", cfg.Subdomain)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		username:   cfg.Username,
		token:      cfg.Token,
	}, nil
}

// APIError is a structured error body returned by the platform. These are
// semantic failures (bad request, validation), as opposed to transport
// errors, and retrying them without change will not help.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticketing API error (status %d): %s", e.StatusCode, e.Message)
}

// do executes one JSON request. A non-2xx status or an "error" field in the
// response body is returned as an *APIError; transport failures are wrapped
// and returned as-is for the caller's retry policy to handle.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username+"/token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	// Some endpoints report failures in a 200 body.
	if msg := errorMessage(data); msg != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}

	return nil
}

// errorMessage extracts the "error" field from a response body, if present.
func errorMessage(data []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}

	var msg string
	if err := json.Unmarshal(envelope.Error, &msg); err == nil {
		return msg
	}
	return string(envelope.Error)
}

// ListTargets returns all registered targets on the account.
func (c *Client) ListTargets(ctx context.Context) ([]Target, error) {
	var resp struct {
		Targets []Target `json:"targets"`
	}
	if err := c.do(ctx, http.MethodGet, "targets.json", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Targets, nil
}

// CreateTarget registers a new target and returns it with its assigned ID.
func (c *Client) CreateTarget(ctx context.Context, target *Target) (*Target, error) {
	req := map[string]interface{}{"target": target}
	var resp struct {
		Target Target `json:"target"`
	}
	if err := c.do(ctx, http.MethodPost, "targets.json", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Target, nil
}

// ListTriggers returns all triggers on the account.
func (c *Client) ListTriggers(ctx context.Context) ([]Trigger, error) {
	var resp struct {
		Triggers []Trigger `json:"triggers"`
	}
	if err := c.do(ctx, http.MethodGet, "triggers.json", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Triggers, nil
}

// CreateTrigger registers a new trigger and returns it with its assigned ID.
func (c *Client) CreateTrigger(ctx context.Context, trigger *Trigger) (*Trigger, error) {
	req := map[string]interface{}{"trigger": trigger}
	var resp struct {
		Trigger Trigger `json:"trigger"`
	}
	if err := c.do(ctx, http.MethodPost, "triggers.json", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Trigger, nil
}

// ShowUserByExternalID looks up a user by external ID.
// Returns (nil, nil) if no user matches.
func (c *Client) ShowUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	path := "users/show_many.json?external_ids=" + url.QueryEscape(externalID)
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, nil
	}
	return &resp.Users[0], nil
}

// CreateOrUpdateUser upserts a user record, matching on external ID.
func (c *Client) CreateOrUpdateUser(ctx context.Context, user *User) (*User, error) {
	req := map[string]interface{}{"user": user}
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "users/create_or_update.json", req, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// CreateTicket creates a new ticket and returns it with its assigned ID.
func (c *Client) CreateTicket(ctx context.Context, ticket *Ticket) (*Ticket, error) {
	req := map[string]interface{}{"ticket": ticket}
	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPost, "tickets.json", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Ticket, nil
}

// AddComment appends a comment to an existing ticket via a ticket update.
func (c *Client) AddComment(ctx context.Context, ticketID int64, comment *Comment) error {
	req := map[string]interface{}{
		"ticket": map[string]interface{}{"comment": comment},
	}
	path := fmt.Sprintf("tickets/%d.json", ticketID)
	return c.do(ctx, http.MethodPut, path, req, nil)
}

// ListTicketsByExternalID returns all tickets whose external ID matches.
func (c *Client) ListTicketsByExternalID(ctx context.Context, externalID string) ([]Ticket, error) {
	path := "tickets.json?external_id=" + url.QueryEscape(externalID)
	var resp struct {
		Tickets []Ticket `json:"tickets"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tickets, nil
}
