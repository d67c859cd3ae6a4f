package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

// ErrRefreshTokenNotFound covers absent, revoked, expired, and
// wrong-client refresh tokens uniformly.
var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// RefreshToken is the durable server-side record of an issued refresh
// token. Only the SHA-256 hash of the opaque value is stored; the raw value
// exists nowhere but the client.
type RefreshToken struct {
	TokenHash      string    // Hex SHA-256 of the opaque token, primary key
	UserID         string
	ClientID       string
	ProductID      string
	TenantID       string
	OrganizationID string
	SessionID      string
	Scope          string
	Roles          []string
	Email          string
	Description    string // Audit metadata
	UserAgent      string // Audit metadata
	IPAddress      string // Audit metadata
	IssuedAt       time.Time
	ExpiresAt      time.Time
	RevokedAt      time.Time // Zero while active
}

// Active reports whether the record is unrevoked and unexpired at now.
func (rt *RefreshToken) Active(now time.Time) bool {
	return rt.RevokedAt.IsZero() && now.Before(rt.ExpiresAt)
}

// RefreshTokenRepo is the durable refresh-token store, shared across server
// instances. Lookups are hash-keyed; Revoke must be atomic so a rotated
// predecessor can never be observed active after its successor exists.
type RefreshTokenRepo interface {
	Upsert(ctx context.Context, refreshToken *RefreshToken) error

	// Get returns the record for a token hash, revoked or not.
	// Returns ErrRefreshTokenNotFound when no record exists.
	Get(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Revoke marks the record revoked at the given time. Revoking an
	// already-revoked record is a no-op, not an error.
	Revoke(ctx context.Context, tokenHash string, at time.Time) error

	// RevokeSession revokes every active record bound to a session and
	// returns how many were revoked.
	RevokeSession(ctx context.Context, sessionID string, at time.Time) (int, error)
}

// HashToken computes the storage key for an opaque refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
