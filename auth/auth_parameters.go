package auth

import (
	"net/url"
	"strings"

	"github.com/idplane/auth-core/oauth2"
)

// AuthorizationParameters holds the query parameters of an authorization
// request, as received at /authorize.
type AuthorizationParameters struct {
	// ResponseType must be "code"; nothing else is issued.
	ResponseType oauth2.ResponseType

	// ClientID identifies the application requesting authorization.
	ClientID string

	// RedirectURI is where the code is delivered. Must exactly match one of
	// the client's registered URIs.
	RedirectURI string

	// Scope is the space-separated requested scope list. Empty means the
	// product's full allowed list.
	Scope string

	// State is echoed back on the redirect for CSRF protection.
	State string

	// CodeChallenge is the PKCE challenge, BASE64URL(SHA256(verifier)).
	CodeChallenge string

	// CodeChallengeMethod must be S256. The enum declares "plain" but the
	// flow rejects it.
	CodeChallengeMethod oauth2.CodeMethodType

	// TenantID optionally pins the grant to one tenant the user is
	// entitled to.
	TenantID string

	// Nonce is echoed into the ID token when present.
	Nonce string
}

// validateShape is the first authorize gate: pure request-shape checks with
// no repository access. Returns a protocol error, never an internal one.
func (p *AuthorizationParameters) validateShape() *oauth2.Error {
	if p.ResponseType != oauth2.CodeResponseType {
		return oauth2.NewError(oauth2.ErrorInvalidRequest, "response_type must be 'code'")
	}

	if strings.TrimSpace(p.ClientID) == "" {
		return oauth2.NewError(oauth2.ErrorInvalidRequest, "client_id is required")
	}

	parsed, err := url.Parse(p.RedirectURI)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return oauth2.NewError(oauth2.ErrorInvalidRequest, "redirect_uri must be an absolute URL")
	}

	// RFC 7636: challenge length mirrors the 43-128 verifier bounds.
	if len(p.CodeChallenge) < 43 || len(p.CodeChallenge) > 128 {
		return oauth2.NewError(oauth2.ErrorInvalidRequest, "code_challenge length must be between 43 and 128 characters")
	}

	// Stricter than the declared enum: S256 only.
	if p.CodeChallengeMethod != oauth2.CodeMethodTypeS256 {
		return oauth2.NewError(oauth2.ErrorInvalidRequest, "code_challenge_method must be 'S256'")
	}

	return nil
}
