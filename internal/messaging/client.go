// Package messaging is the adapter for the messaging platform API: sending
// text into conversations attributed to a named sender, and fetching user
// identities. The Client interface is what the rest of the engine depends
// on; APIClient is the REST implementation.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deskhook/deskhook/pkg/events"
)

// Identity is a messaging-platform user profile.
type Identity struct {
	DisplayName string            `json:"display_name"`
	FirstName   string            `json:"first_name,omitempty"`
	LastName    string            `json:"last_name,omitempty"`
	Email       string            `json:"email_address,omitempty"`
	Phone       string            `json:"phone_number,omitempty"`
	AvatarURL   string            `json:"avatar_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Client is the messaging-platform surface the engine uses. Sending the same
// comment twice under a retried job is the accepted worst case; the platform
// offers no send-dedup key.
type Client interface {
	// SendTextFromName posts a plain-text message into a conversation,
	// attributed to the given display name rather than a registered user.
	SendTextFromName(ctx context.Context, conversationID, senderName, text string) error

	// GetIdentity fetches a user's profile by user ID.
	GetIdentity(ctx context.Context, userID string) (*Identity, error)
}

// APIClient implements Client against the messaging platform REST API.
type APIClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewAPIClient creates a messaging API client.
func NewAPIClient(baseURL, token string) (*APIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("messaging base URL is required")
	}

	return &APIClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}, nil
}

// SendTextFromName implements Client.
func (c *APIClient) SendTextFromName(ctx context.Context, conversationID, senderName, text string) error {
	body := map[string]interface{}{
		"sender": map[string]string{"name": senderName},
		"parts": []events.MessagePart{
			{MimeType: events.MimeTextPlain, Body: text},
		},
	}

	path := fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// GetIdentity implements Client.
func (c *APIClient) GetIdentity(ctx context.Context, userID string) (*Identity, error) {
	var identity Identity
	path := fmt.Sprintf("users/%s/identity", url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
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
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

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
		return fmt.Errorf("messaging API error (status %d): %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}

	return nil
}
