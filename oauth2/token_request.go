package oauth2

// TokenRequest holds the parameters presented to the token endpoint.
// Populated from form or JSON bodies; the two grant types are mutually
// exclusive and each ignores the other's fields.
type TokenRequest struct {
	// GrantType selects between authorization_code and refresh_token.
	GrantType GrantType `json:"grant_type"`

	// ClientID identifies the requesting client. Required for both grants.
	ClientID string `json:"client_id"`

	// ClientSecret authenticates confidential clients. Public clients omit it.
	ClientSecret string `json:"client_secret,omitempty"`

	// Code is the single-use authorization code (authorization_code grant).
	Code string `json:"code,omitempty"`

	// CodeVerifier is the PKCE secret whose S256 digest must equal the
	// challenge bound to the code (authorization_code grant).
	CodeVerifier string `json:"code_verifier,omitempty"`

	// RedirectURI must exactly match the URI the code was issued against
	// (authorization_code grant).
	RedirectURI string `json:"redirect_uri,omitempty"`

	// RefreshToken is the opaque token being exchanged (refresh_token grant).
	RefreshToken string `json:"refresh_token,omitempty"`

	// UserAgent and RemoteAddr are transport metadata recorded against the
	// issued refresh token for audit purposes, never validated.
	UserAgent  string `json:"-"`
	RemoteAddr string `json:"-"`
}
