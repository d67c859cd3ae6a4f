package token

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// JWT header typ values. Access tokens use the RFC 9068 discriminator so
// resource servers cannot be tricked into accepting an ID token.
const (
	AccessTokenType = "at+jwt"
	IDTokenType     = "JWT"
)

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	K   string `json:"k,omitempty"`
}

// Signer signs and verifies JWT tokens under a single key.
type Signer interface {
	// Sign creates a signed JWT from claims with the given typ header.
	Sign(claims jwt.Claims, typ string) (string, error)

	// GetVerificationKey returns the key for verifying a parsed token,
	// rejecting unexpected signing methods.
	GetVerificationKey(token *jwt.Token) (any, error)

	// KeyID returns the key identifier stamped into token headers.
	KeyID() string
}

// HMACSigner implements Signer using symmetric HMAC-SHA256.
type HMACSigner struct {
	secret []byte
	keyID  string
}

// NewHMACSigner creates an HMAC signer with the given secret and key id.
func NewHMACSigner(secret, keyID string) *HMACSigner {
	return &HMACSigner{
		secret: []byte(secret),
		keyID:  keyID,
	}
}

func (h *HMACSigner) Sign(claims jwt.Claims, typ string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = h.keyID
	token.Header["typ"] = typ

	signedToken, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signedToken, nil
}

func (h *HMACSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACSigner) KeyID() string {
	return h.keyID
}

// JWKS exports the verification material as an oct key. The k value is a
// SHA-256 derivation of the secret, never the raw secret. Signing is
// symmetric, so this endpoint is only usable by parties that already share
// the derivation; treat it as internal verification material, not public
// OIDC interop.
func (h *HMACSigner) JWKS() *JWKS {
	derived := sha256.Sum256(h.secret)
	return &JWKS{
		Keys: []JWK{{
			Kty: "oct",
			Use: "sig",
			Kid: h.keyID,
			Alg: "HS256",
			K:   base64.RawURLEncoding.EncodeToString(derived[:]),
		}},
	}
}
