package oauth2

// TokenResponse is the token endpoint response format defined in RFC 6749.
// Returned for both grant types; every successful exchange carries a full
// set (access, ID, and refresh token) or nothing at all.
type TokenResponse struct {
	// AccessToken is the signed JWT presented to resource servers.
	AccessToken string `json:"access_token"`

	// IDToken is the signed OpenID Connect identity assertion.
	IDToken string `json:"id_token,omitempty"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds. A hint; the
	// authoritative expiry is the JWT exp claim.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is the opaque token for the refresh_token grant.
	// Rotates on every use; the previous value is permanently revoked.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated granted scope list.
	Scope string `json:"scope,omitempty"`
}
