// Package hooks implements the idempotent remote webhook-subscription setup:
// making sure the ticketing platform has exactly one target pointing back at
// this system and exactly one trigger routing public ticket comments to it.
//
// Setup is discover-then-create and safe to re-run; it is meant for
// deployment time (`deskhook setup` or server startup). It is not
// transactional, so concurrent first-time startups are unsupported.
package hooks

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"

	"github.com/deskhook/deskhook/internal/ticketing"
	"github.com/deskhook/deskhook/internal/tickets"
)

// apiViaChannelID is the platform's via-channel ID for API-originated ticket
// updates. The trigger excludes this channel so comments this system writes
// do not fire the trigger and loop back as messages.
const apiViaChannelID = "5"

// payloadTemplate is the JSON body the target is invoked with. The
// placeholders are expanded by the ticketing platform when the trigger fires.
const payloadTemplate = "{\n" +
	"    \"id\": \"{{ticket.id}}\",\n" +
	"    \"external_id\": \"{{ticket.external_id}}\",\n" +
	"    \"sender\": \"{{current_user.name}}\",\n" +
	"    \"comment\": \"{{ticket.latest_public_comment}}\"\n" +
	"}"

// Manager performs the discover-or-create subscription protocol.
type Manager struct {
	client *ticketing.Client
	title  string // Fixed title identifying this deployment's target and trigger
	url    string // Exact callback URL the target must point at
}

// NewManager creates a subscription manager.
//
// baseURL is this server's externally reachable base URL. If altPort is
// non-zero the callback URL is rewritten to plain http on that port, for
// environments where the ticketing platform cannot reach the TLS listener
// (self-signed certificates in development). path is appended to the result.
func NewManager(client *ticketing.Client, title, baseURL, path string, altPort int) (*Manager, error) {
	callbackURL, err := TargetURL(baseURL, path, altPort)
	if err != nil {
		return nil, err
	}

	return &Manager{
		client: client,
		title:  title,
		url:    callbackURL,
	}, nil
}

// TargetURL computes the callback URL registered with the ticketing platform.
func TargetURL(baseURL, path string, altPort int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q must include scheme and host", baseURL)
	}

	if altPort != 0 {
		u.Scheme = "http"
		host := u.Host
		if h, _, err := net.SplitHostPort(u.Host); err == nil {
			host = h
		}
		u.Host = net.JoinHostPort(host, strconv.Itoa(altPort))
	}

	return u.String() + path, nil
}

// Setup runs the full protocol: ensure the target exists, then ensure a
// trigger referencing it exists. Both halves reuse existing remote state when
// it already matches, so repeated runs create nothing.
func (m *Manager) Setup(ctx context.Context) (*ticketing.Target, *ticketing.Trigger, error) {
	target, err := m.EnsureTarget(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up target: %w", err)
	}

	trigger, err := m.EnsureTrigger(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up trigger: %w", err)
	}

	log.Printf("[Hooks] Target %d and trigger %d are ready", target.ID, trigger.ID)
	return target, trigger, nil
}

// EnsureTarget finds the target matching this deployment's title and callback
// URL, creating it if absent.
func (m *Manager) EnsureTarget(ctx context.Context) (*ticketing.Target, error) {
	targets, err := m.client.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	for i := range targets {
		if targets[i].Title == m.title && targets[i].TargetURL == m.url {
			return &targets[i], nil
		}
	}

	created, err := m.client.CreateTarget(ctx, &ticketing.Target{
		Type:        "url_target_v2",
		Title:       m.title,
		ContentType: "application/json",
		TargetURL:   m.url,
		Method:      "post",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	log.Printf("[Hooks] Created target %d for %s", created.ID, m.url)
	return created, nil
}

// EnsureTrigger finds the trigger whose notification_target action references
// the given target, creating it if absent. The trigger fires on public
// comments added to updated tickets that carry the marker tag, excluding
// updates that originated from this integration's own API channel.
func (m *Manager) EnsureTrigger(ctx context.Context, target *ticketing.Target) (*ticketing.Trigger, error) {
	triggers, err := m.client.ListTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	targetID := strconv.FormatInt(target.ID, 10)
	for i := range triggers {
		for _, action := range triggers[i].Actions {
			if id, ok := action.NotificationTargetID(); ok && id == targetID {
				return &triggers[i], nil
			}
		}
	}

	action, err := ticketing.NotificationAction(targetID, payloadTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to build notification action: %w", err)
	}

	created, err := m.client.CreateTrigger(ctx, &ticketing.Trigger{
		Title: m.title,
		All: []ticketing.Condition{
			{Field: "update_type", Operator: "is", Value: "Change"},
			{Field: "current_tags", Operator: "includes", Value: tickets.MarkerTag},
			{Field: "comment_is_public", Operator: "is", Value: "true"},
			{Field: "current_via_id", Operator: "is_not", Value: apiViaChannelID},
		},
		Actions: []ticketing.Action{action},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	log.Printf("[Hooks] Created trigger %d referencing target %d", created.ID, target.ID)
	return created, nil
}
