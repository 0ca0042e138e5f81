package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhook/deskhook/internal/ticketing"
)

// fakeUserAPI simulates the ticketing platform's user endpoints.
type fakeUserAPI struct {
	users       map[string]ticketing.User // keyed by external ID
	createCalls int
}

func (f *fakeUserAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/show_many.json", func(w http.ResponseWriter, r *http.Request) {
		externalID := r.URL.Query().Get("external_ids")
		resp := struct {
			Users []ticketing.User `json:"users"`
		}{}
		if user, ok := f.users[externalID]; ok {
			resp.Users = append(resp.Users, user)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/users/create_or_update.json", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls++
		var req struct {
			User ticketing.User `json:"user"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		req.User.ID = int64(9000 + f.createCalls)
		f.users[req.User.ExternalID] = req.User
		_ = json.NewEncoder(w).Encode(map[string]ticketing.User{"user": req.User})
	})
	return mux
}

func setupTestRegistrar(t *testing.T, lookup LookupFunc) (*Registrar, *fakeUserAPI) {
	api := &fakeUserAPI{users: make(map[string]ticketing.User)}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	client, err := ticketing.NewClient(ticketing.Config{
		Username: "ops@acme.com",
		Token:    "secret",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	registrar, err := NewRegistrar(client, lookup)
	require.NoError(t, err)
	return registrar, api
}

func TestNewRegistrarRequiresLookup(t *testing.T) {
	_, err := NewRegistrar(nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lookup function is required")
}

func TestRegisterUserExisting(t *testing.T) {
	lookup := func(ctx context.Context, userID string) (*Profile, error) {
		t.Fatal("lookup must not run when the user already exists")
		return nil, nil
	}
	registrar, api := setupTestRegistrar(t, lookup)
	api.users["user-1"] = ticketing.User{ID: 77, ExternalID: "user-1", Name: "Ada"}

	user, err := registrar.RegisterUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(77), user.ID)
	assert.Equal(t, 0, api.createCalls)
}

func TestRegisterUserCreatesMissing(t *testing.T) {
	lookup := func(ctx context.Context, userID string) (*Profile, error) {
		return &Profile{Name: "Grace Hopper", Email: "grace@example.com"}, nil
	}
	registrar, api := setupTestRegistrar(t, lookup)

	user, err := registrar.RegisterUser(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, 1, api.createCalls)
	assert.Equal(t, "user-2", user.ExternalID)
	assert.Equal(t, "Grace Hopper", user.Name)
	assert.Equal(t, "grace@example.com", user.Email)
	assert.NotZero(t, user.ID)
}

func TestRegisterUserLookupFailure(t *testing.T) {
	lookup := func(ctx context.Context, userID string) (*Profile, error) {
		return nil, fmt.Errorf("directory unavailable")
	}
	registrar, api := setupTestRegistrar(t, lookup)

	_, err := registrar.RegisterUser(context.Background(), "user-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity lookup failed")
	assert.Equal(t, 0, api.createCalls)
}
