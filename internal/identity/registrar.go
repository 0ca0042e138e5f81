// Package identity maps messaging-platform user IDs to ticketing-platform
// user records, creating them on demand. Mappings are not cached locally:
// every need re-runs the idempotent lookup-or-create against the ticketing
// platform, which is acceptable at support-ticket volumes.
package identity

import (
	"context"
	"fmt"

	"github.com/deskhook/deskhook/internal/messaging"
	"github.com/deskhook/deskhook/internal/ticketing"
)

// Profile is the user information the registrar needs to create a
// ticketing-platform user.
type Profile struct {
	Name  string
	Email string
}

// LookupFunc resolves a messaging-platform user ID to a Profile. Deployments
// can override this to source identities from their own user directory.
type LookupFunc func(ctx context.Context, userID string) (*Profile, error)

// DefaultLookup builds a LookupFunc that calls the messaging platform's
// identity API and maps its fields onto a Profile.
func DefaultLookup(client messaging.Client) LookupFunc {
	return func(ctx context.Context, userID string) (*Profile, error) {
		ident, err := client.GetIdentity(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &Profile{
			Name:  ident.DisplayName,
			Email: ident.Email,
		}, nil
	}
}

// Registrar performs the lookup-or-create protocol for user mappings.
type Registrar struct {
	ticketing *ticketing.Client
	lookup    LookupFunc
}

// NewRegistrar creates a registrar. lookup must not be nil.
func NewRegistrar(client *ticketing.Client, lookup LookupFunc) (*Registrar, error) {
	if lookup == nil {
		return nil, fmt.Errorf("identity lookup function is required")
	}
	return &Registrar{ticketing: client, lookup: lookup}, nil
}

// RegisterUser returns the ticketing-platform user for a messaging-platform
// user ID. An existing user (matched by external ID) is returned as-is;
// otherwise the lookup callback supplies a profile and a user is
// created-or-updated with it. Lookup or create failures propagate to the
// caller; no fallback identity is fabricated.
func (r *Registrar) RegisterUser(ctx context.Context, userID string) (*ticketing.User, error) {
	user, err := r.ticketing.ShowUserByExternalID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user for %s: %w", userID, err)
	}
	if user != nil {
		return user, nil
	}

	profile, err := r.lookup(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed for %s: %w", userID, err)
	}

	created, err := r.ticketing.CreateOrUpdateUser(ctx, &ticketing.User{
		ExternalID: userID,
		Name:       profile.Name,
		Email:      profile.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user for %s: %w", userID, err)
	}

	return created, nil
}
