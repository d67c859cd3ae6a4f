// Package clients models the registered OAuth2 clients known to the
// authorization server. Client administration happens elsewhere in the
// platform; this package only reads registrations and checks secrets.
package clients

import "golang.org/x/crypto/bcrypt"

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// Client is a registered OAuth2 client bound to one product.
type Client struct {
	ID           string     `json:"id"`
	Type         ClientType `json:"type"`
	Description  string     `json:"description"`
	ProductID    string     `json:"productId"`
	SecretHash   string     `json:"secretHash"` // bcrypt hash; empty for public clients
	RedirectURIs []string   `json:"redirectURIs"`
	Scopes       []string   `json:"scopes"` // Full allowed scope list for the product
}

// IsPublic returns true if the client cannot hold a secret.
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// HasRedirectURI checks the URI against the registered whitelist. Exact
// string match only, no prefix or wildcard logic.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// HasScope checks if the client may grant a specific scope token.
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// VerifySecret compares a presented secret against the stored hash.
func (c *Client) VerifySecret(secret string) bool {
	if c.SecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// HashSecret hashes a client secret for storage.
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}
