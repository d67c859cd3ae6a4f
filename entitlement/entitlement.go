// Package entitlement defines the interface to the platform's entitlement
// system, an external collaborator. The authorization core consumes it to
// resolve which tenant, organization, and roles a user holds for a product;
// it never writes entitlements.
package entitlement

import (
	"context"
	"time"
)

// Entitlement binds a user to a product, tenant, organization, and role set.
// A zero ExpiresAt means the entitlement does not expire.
type Entitlement struct {
	UserID         string    `json:"userId"`
	ProductID      string    `json:"productId"`
	TenantID       string    `json:"tenantId"`
	OrganizationID string    `json:"organizationId"`
	Roles          []string  `json:"roles"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Active reports whether the entitlement is unexpired at now.
func (e Entitlement) Active(now time.Time) bool {
	return e.ExpiresAt.IsZero() || e.ExpiresAt.After(now)
}

// Resolver looks up a user's entitlements for a product. Implementations
// live outside this module; resolverfake provides the test double.
type Resolver interface {
	// ActiveEntitlements returns the user's unexpired entitlements for the
	// product. An empty slice with a nil error means access is denied.
	ActiveEntitlements(ctx context.Context, userID, productID string) ([]Entitlement, error)
}
