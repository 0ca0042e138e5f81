package ticketing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest captures what the client sent for assertions.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

// newTestClient starts a fake platform API that answers every request with
// the given status and body, and returns a client pointed at it.
func newTestClient(t *testing.T, status int, responseBody string) (*Client, *recordedRequest) {
	recorded := &recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded.Method = r.Method
		recorded.Path = r.URL.Path
		recorded.Query = r.URL.RawQuery
		recorded.Auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&recorded.Body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(responseBody))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Username: "ops@acme.com",
		Token:    "secret-token",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)
	return client, recorded
}

func TestNewClient(t *testing.T) {
	t.Run("requires credentials", func(t *testing.T) {
		_, err := NewClient(Config{Subdomain: "acme"})
		assert.Error(t, err)
	})

	t.Run("requires subdomain without base url override", func(t *testing.T) {
		_, err := NewClient(Config{Username: "u", Token: "t"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "subdomain is required")
	})

	t.Run("derives base url from subdomain", func(t *testing.T) {
		client, err := NewClient(Config{Subdomain: "acme", Username: "u", Token: "t"})
		require.NoError(t, err)
		assert.Equal(t, "https://acme.zendesk.com/api/v2", client.baseURL)
	})
}

func TestBasicAuthFormat(t *testing.T) {
	client, recorded := newTestClient(t, http.StatusOK, `{"targets": []}`)

	_, err := client.ListTargets(context.Background())
	require.NoError(t, err)

	// Token auth: the username carries a "/token" suffix.
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops@acme.com/token:secret-token"))
	assert.Equal(t, expected, recorded.Auth)
}

func TestCreateTarget(t *testing.T) {
	client, recorded := newTestClient(t, http.StatusCreated,
		`{"target": {"id": 360000001, "title": "Acme Bridge", "type": "url_target_v2"}}`)

	created, err := client.CreateTarget(context.Background(), &Target{
		Type:       "url_target_v2",
		Title:      "Acme Bridge",
		TargetURL:  "https://hooks.example.com/ticketing-event",
		Method:     "post",
		ContentType: "application/json",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, recorded.Method)
	assert.Equal(t, "/targets.json", recorded.Path)
	assert.Equal(t, int64(360000001), created.ID)

	payload, ok := recorded.Body["target"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "url_target_v2", payload["type"])
	assert.Equal(t, "https://hooks.example.com/ticketing-event", payload["target_url"])
}

func TestShowUserByExternalID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		client, recorded := newTestClient(t, http.StatusOK,
			`{"users": [{"id": 9001, "external_id": "user-1", "name": "Ada"}]}`)

		user, err := client.ShowUserByExternalID(context.Background(), "user-1")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, int64(9001), user.ID)
		assert.Equal(t, "/users/show_many.json", recorded.Path)
		assert.Equal(t, "external_ids=user-1", recorded.Query)
	})

	t.Run("not found returns nil without error", func(t *testing.T) {
		client, _ := newTestClient(t, http.StatusOK, `{"users": []}`)

		user, err := client.ShowUserByExternalID(context.Background(), "user-2")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestAddComment(t *testing.T) {
	client, recorded := newTestClient(t, http.StatusOK, `{"ticket": {"id": 42}}`)

	err := client.AddComment(context.Background(), 42, &Comment{
		Public:   true,
		Body:     "Thanks, looking into it.",
		AuthorID: 9001,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, recorded.Method)
	assert.Equal(t, "/tickets/42.json", recorded.Path)

	ticket, ok := recorded.Body["ticket"].(map[string]interface{})
	require.True(t, ok)
	comment, ok := ticket["comment"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, comment["public"])
	assert.Equal(t, "Thanks, looking into it.", comment["body"])
}

func TestListTicketsByExternalID(t *testing.T) {
	client, recorded := newTestClient(t, http.StatusOK,
		`{"tickets": [{"id": 7, "external_id": "conv-1"}]}`)

	tickets, err := client.ListTicketsByExternalID(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, int64(7), tickets[0].ID)
	assert.Equal(t, "/tickets.json", recorded.Path)
	assert.Equal(t, "external_id=conv-1", recorded.Query)
}

func TestAPIErrors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		client, _ := newTestClient(t, http.StatusUnprocessableEntity,
			`{"error": "RecordInvalid"}`)

		_, err := client.CreateTicket(context.Background(), &Ticket{})
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		assert.Equal(t, "RecordInvalid", apiErr.Message)
	})

	t.Run("error field in a 200 body", func(t *testing.T) {
		client, _ := newTestClient(t, http.StatusOK, `{"error": "TooManyTargets"}`)

		_, err := client.ListTargets(context.Background())
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "TooManyTargets", apiErr.Message)
	})
}
