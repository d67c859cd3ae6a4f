// Package bootstrap loads client and entitlement registration snapshots at
// startup. Both registries are owned by the surrounding platform; the
// snapshots stand in for its admin surfaces in standalone deployments.
package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/idplane/auth-core/clients"
	"github.com/idplane/auth-core/entitlement"
	"github.com/pkg/errors"
)

// StaticClients is a read-only clients.Repo backed by a snapshot.
type StaticClients struct {
	byID map[string]*clients.Client
}

// Get implements clients.Repo.
func (s *StaticClients) Get(clientID string) (*clients.Client, error) {
	client, ok := s.byID[clientID]
	if !ok {
		return nil, clients.ErrClientNotFound
	}
	copied := *client
	copied.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	copied.Scopes = append([]string(nil), client.Scopes...)
	return &copied, nil
}

// LoadClients reads a JSON array of client registrations.
func LoadClients(path string) (*StaticClients, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "[bootstrap.LoadClients] reading snapshot")
	}

	var list []clients.Client
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrap(err, "[bootstrap.LoadClients] parsing snapshot")
	}

	byID := make(map[string]*clients.Client, len(list))
	for i := range list {
		byID[list[i].ID] = &list[i]
	}
	return &StaticClients{byID: byID}, nil
}

// NoClients returns an empty client registry.
func NoClients() *StaticClients {
	return &StaticClients{byID: map[string]*clients.Client{}}
}

// StaticResolver is an entitlement.Resolver backed by a snapshot.
type StaticResolver struct {
	entitlements []entitlement.Entitlement
}

// ActiveEntitlements implements entitlement.Resolver.
func (s *StaticResolver) ActiveEntitlements(_ context.Context, userID, productID string) ([]entitlement.Entitlement, error) {
	now := time.Now()
	var out []entitlement.Entitlement
	for _, e := range s.entitlements {
		if e.UserID == userID && e.ProductID == productID && e.Active(now) {
			copied := e
			copied.Roles = append([]string(nil), e.Roles...)
			out = append(out, copied)
		}
	}
	return out, nil
}

// NoEntitlements returns an empty resolver.
func NoEntitlements() *StaticResolver {
	return &StaticResolver{}
}

// LoadEntitlements reads a JSON array of entitlements.
func LoadEntitlements(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "[bootstrap.LoadEntitlements] reading snapshot")
	}

	var list []entitlement.Entitlement
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrap(err, "[bootstrap.LoadEntitlements] parsing snapshot")
	}
	return &StaticResolver{entitlements: list}, nil
}
