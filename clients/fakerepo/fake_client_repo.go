// Package fakerepo provides an in-memory client repository for tests and
// bootstrap wiring.
package fakerepo

import (
	"sync"

	"github.com/idplane/auth-core/clients"
)

// FakeClientRepo is a thread-safe in-memory implementation of clients.Repo.
type FakeClientRepo struct {
	mu      sync.RWMutex
	clients map[string]*clients.Client
}

// NewFakeClientRepo creates an empty client repository.
func NewFakeClientRepo() *FakeClientRepo {
	return &FakeClientRepo{clients: make(map[string]*clients.Client)}
}

// Upsert stores or replaces a client registration.
func (r *FakeClientRepo) Upsert(client *clients.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *client
	copied.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	copied.Scopes = append([]string(nil), client.Scopes...)
	r.clients[client.ID] = &copied
}

// Get implements clients.Repo.
func (r *FakeClientRepo) Get(clientID string) (*clients.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, clients.ErrClientNotFound
	}
	copied := *client
	copied.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	copied.Scopes = append([]string(nil), client.Scopes...)
	return &copied, nil
}
