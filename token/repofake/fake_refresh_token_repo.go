// Package repofake provides an in-memory refresh token repository for tests.
package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/idplane/auth-core/token"
)

// FakeRefreshTokenRepo is a thread-safe in-memory implementation of
// token.RefreshTokenRepo.
type FakeRefreshTokenRepo struct {
	mu     sync.RWMutex
	tokens map[string]*token.RefreshToken

	// Error hooks for simulating store failures.
	UpsertErr error
	RevokeErr error
}

// NewFakeRefreshTokenRepo creates an empty repository.
func NewFakeRefreshTokenRepo() *FakeRefreshTokenRepo {
	return &FakeRefreshTokenRepo{tokens: make(map[string]*token.RefreshToken)}
}

func (r *FakeRefreshTokenRepo) Upsert(_ context.Context, rt *token.RefreshToken) error {
	if r.UpsertErr != nil {
		return r.UpsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := copyToken(rt)
	r.tokens[rt.TokenHash] = copied
	return nil
}

func (r *FakeRefreshTokenRepo) Get(_ context.Context, tokenHash string) (*token.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tokens[tokenHash]
	if !ok {
		return nil, token.ErrRefreshTokenNotFound
	}
	return copyToken(rt), nil
}

func (r *FakeRefreshTokenRepo) Revoke(_ context.Context, tokenHash string, at time.Time) error {
	if r.RevokeErr != nil {
		return r.RevokeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tokens[tokenHash]
	if !ok {
		return token.ErrRefreshTokenNotFound
	}
	if rt.RevokedAt.IsZero() {
		rt.RevokedAt = at
	}
	return nil
}

func (r *FakeRefreshTokenRepo) RevokeSession(_ context.Context, sessionID string, at time.Time) (int, error) {
	if r.RevokeErr != nil {
		return 0, r.RevokeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for _, rt := range r.tokens {
		if rt.SessionID == sessionID && rt.RevokedAt.IsZero() {
			rt.RevokedAt = at
			revoked++
		}
	}
	return revoked, nil
}

// Len reports the number of stored records, revoked or not.
func (r *FakeRefreshTokenRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

func copyToken(rt *token.RefreshToken) *token.RefreshToken {
	copied := *rt
	copied.Roles = append([]string(nil), rt.Roles...)
	return &copied
}
