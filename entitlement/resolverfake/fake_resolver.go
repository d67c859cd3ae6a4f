// Package resolverfake provides an in-memory entitlement resolver for tests.
package resolverfake

import (
	"context"
	"sync"
	"time"

	"github.com/idplane/auth-core/entitlement"
)

// FakeResolver is a thread-safe in-memory implementation of
// entitlement.Resolver. Entitlements are added per user and filtered for
// expiry on lookup, mirroring how the real resolver behaves.
type FakeResolver struct {
	mu           sync.RWMutex
	entitlements []entitlement.Entitlement
	nowFunc      func() time.Time

	// Err, when set, is returned by every lookup. Simulates resolver outages.
	Err error
}

// NewFakeResolver creates an empty fake resolver.
func NewFakeResolver() *FakeResolver {
	return &FakeResolver{nowFunc: time.Now}
}

// SetNowFunc overrides the clock used for expiry filtering.
func (f *FakeResolver) SetNowFunc(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowFunc = now
}

// Add registers an entitlement.
func (f *FakeResolver) Add(e entitlement.Entitlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entitlements = append(f.entitlements, e)
}

// RemoveAll drops every entitlement for the user, simulating revocation.
func (f *FakeResolver) RemoveAll(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entitlements[:0]
	for _, e := range f.entitlements {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	f.entitlements = kept
}

// ActiveEntitlements implements entitlement.Resolver.
func (f *FakeResolver) ActiveEntitlements(_ context.Context, userID, productID string) ([]entitlement.Entitlement, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.Err != nil {
		return nil, f.Err
	}

	now := f.nowFunc()
	var out []entitlement.Entitlement
	for _, e := range f.entitlements {
		if e.UserID == userID && e.ProductID == productID && e.Active(now) {
			copied := e
			copied.Roles = append([]string(nil), e.Roles...)
			out = append(out, copied)
		}
	}
	return out, nil
}
