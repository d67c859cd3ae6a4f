package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenContext carries everything needed to mint a token set. It is
// assembled by the flows (from a consumed authorization code or a validated
// refresh token) and never mutated by the token service.
type AccessTokenContext struct {
	UserID         string
	ClientID       string
	ProductID      string
	TenantID       string
	OrganizationID string
	Roles          []string
	Scope          string
	SessionID      string
	Email          string
	Nonce          string
}

// AccessTokenClaims is the fixed claim set of an access token. Built only by
// NewAccessTokenClaims so no code path can emit a partially-populated token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	TenantID       string   `json:"tenant"`
	OrganizationID string   `json:"org,omitempty"`
	ProductID      string   `json:"product"`
	Roles          []string `json:"roles,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	SessionID      string   `json:"sid,omitempty"`
	Email          string   `json:"email,omitempty"`
}

// IDTokenClaims is the fixed claim set of an OpenID Connect ID token.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	TenantID       string   `json:"tenant"`
	OrganizationID string   `json:"org,omitempty"`
	ProductID      string   `json:"product"`
	Roles          []string `json:"roles,omitempty"`
	SessionID      string   `json:"sid,omitempty"`
	Email          string   `json:"email,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
}

// NewAccessTokenClaims derives access token claims from the context. Expiry
// is always now + ttl relative to signing time, never caller-supplied.
func NewAccessTokenClaims(tc AccessTokenContext, issuer string, now time.Time, ttl time.Duration) AccessTokenClaims {
	return AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   tc.UserID,
			Audience:  jwt.ClaimStrings{tc.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		TenantID:       tc.TenantID,
		OrganizationID: tc.OrganizationID,
		ProductID:      tc.ProductID,
		Roles:          append([]string(nil), tc.Roles...),
		Scope:          tc.Scope,
		SessionID:      tc.SessionID,
		Email:          tc.Email,
	}
}

// NewIDTokenClaims derives ID token claims from the context. The nonce is
// echoed from the original authorization request when present.
func NewIDTokenClaims(tc AccessTokenContext, issuer string, now time.Time, ttl time.Duration) IDTokenClaims {
	return IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   tc.UserID,
			Audience:  jwt.ClaimStrings{tc.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		TenantID:       tc.TenantID,
		OrganizationID: tc.OrganizationID,
		ProductID:      tc.ProductID,
		Roles:          append([]string(nil), tc.Roles...),
		SessionID:      tc.SessionID,
		Email:          tc.Email,
		Nonce:          tc.Nonce,
	}
}
