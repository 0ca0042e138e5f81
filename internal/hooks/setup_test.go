package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhook/deskhook/internal/ticketing"
	"github.com/deskhook/deskhook/internal/tickets"
)

// fakeSubscriptionAPI simulates the platform's target and trigger endpoints
// with in-memory state so idempotency is observable across calls.
type fakeSubscriptionAPI struct {
	targets        []ticketing.Target
	triggers       []ticketing.Trigger
	targetCreates  int
	triggerCreates int
}

func (f *fakeSubscriptionAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/targets.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string][]ticketing.Target{"targets": f.targets})
			return
		}
		f.targetCreates++
		var req struct {
			Target ticketing.Target `json:"target"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		req.Target.ID = int64(500 + f.targetCreates)
		f.targets = append(f.targets, req.Target)
		_ = json.NewEncoder(w).Encode(map[string]ticketing.Target{"target": req.Target})
	})
	mux.HandleFunc("/triggers.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string][]ticketing.Trigger{"triggers": f.triggers})
			return
		}
		f.triggerCreates++
		var req struct {
			Trigger ticketing.Trigger `json:"trigger"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		req.Trigger.ID = int64(700 + f.triggerCreates)
		f.triggers = append(f.triggers, req.Trigger)
		_ = json.NewEncoder(w).Encode(map[string]ticketing.Trigger{"trigger": req.Trigger})
	})
	return mux
}

func setupTestManager(t *testing.T) (*Manager, *fakeSubscriptionAPI) {
	api := &fakeSubscriptionAPI{}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	client, err := ticketing.NewClient(ticketing.Config{
		Username: "ops@acme.com",
		Token:    "secret",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	manager, err := NewManager(client, "Acme Bridge", "https://hooks.example.com", "/ticketing-event", 0)
	require.NoError(t, err)
	return manager, api
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		path    string
		altPort int
		want    string
		wantErr bool
	}{
		{
			name:    "plain https",
			baseURL: "https://hooks.example.com",
			path:    "/ticketing-event",
			want:    "https://hooks.example.com/ticketing-event",
		},
		{
			name:    "alt port rewrites to http",
			baseURL: "https://hooks.example.com",
			path:    "/ticketing-event",
			altPort: 8701,
			want:    "http://hooks.example.com:8701/ticketing-event",
		},
		{
			name:    "alt port replaces existing port",
			baseURL: "https://hooks.example.com:8443",
			path:    "/ticketing-event",
			altPort: 8701,
			want:    "http://hooks.example.com:8701/ticketing-event",
		},
		{
			name:    "missing scheme",
			baseURL: "hooks.example.com",
			path:    "/ticketing-event",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetURL(tt.baseURL, tt.path, tt.altPort)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupCreatesBothFromScratch(t *testing.T) {
	manager, api := setupTestManager(t)

	target, trigger, err := manager.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, api.targetCreates)
	assert.Equal(t, 1, api.triggerCreates)

	assert.Equal(t, "url_target_v2", target.Type)
	assert.Equal(t, "Acme Bridge", target.Title)
	assert.Equal(t, "https://hooks.example.com/ticketing-event", target.TargetURL)
	assert.Equal(t, "post", target.Method)

	require.Len(t, trigger.All, 4)
	conditions := map[string]ticketing.Condition{}
	for _, c := range trigger.All {
		conditions[c.Field] = c
	}
	assert.Equal(t, ticketing.Condition{Field: "update_type", Operator: "is", Value: "Change"}, conditions["update_type"])
	assert.Equal(t, ticketing.Condition{Field: "current_tags", Operator: "includes", Value: tickets.MarkerTag}, conditions["current_tags"])
	assert.Equal(t, ticketing.Condition{Field: "comment_is_public", Operator: "is", Value: "true"}, conditions["comment_is_public"])
	assert.Equal(t, ticketing.Condition{Field: "current_via_id", Operator: "is_not", Value: "5"}, conditions["current_via_id"])

	require.Len(t, trigger.Actions, 1)
	id, ok := trigger.Actions[0].NotificationTargetID()
	require.True(t, ok)
	assert.Equal(t, "501", id)
}

func TestSetupIsIdempotent(t *testing.T) {
	manager, api := setupTestManager(t)

	first, firstTrigger, err := manager.Setup(context.Background())
	require.NoError(t, err)

	second, secondTrigger, err := manager.Setup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, api.targetCreates)
	assert.Equal(t, 1, api.triggerCreates)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, firstTrigger.ID, secondTrigger.ID)
}

func TestEnsureTargetReusesOnlyExactMatch(t *testing.T) {
	manager, api := setupTestManager(t)

	// Same title, different URL: a stale registration from a moved
	// deployment must not be reused.
	api.targets = append(api.targets, ticketing.Target{
		ID:        300,
		Title:     "Acme Bridge",
		TargetURL: "https://old.example.com/ticketing-event",
	})

	target, err := manager.EnsureTarget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, api.targetCreates)
	assert.NotEqual(t, int64(300), target.ID)
}

func TestEnsureTriggerMatchesByTargetReference(t *testing.T) {
	manager, api := setupTestManager(t)

	action, err := ticketing.NotificationAction("888", "{}")
	require.NoError(t, err)
	api.triggers = append(api.triggers, ticketing.Trigger{
		ID:      42,
		Title:   "Some unrelated name",
		Actions: []ticketing.Action{action},
	})

	trigger, err := manager.EnsureTrigger(context.Background(), &ticketing.Target{ID: 888})
	require.NoError(t, err)
	assert.Equal(t, 0, api.triggerCreates)
	assert.Equal(t, int64(42), trigger.ID)
}
