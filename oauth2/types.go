package oauth2

// ResponseType represents the OAuth 2.0 response type requested at the
// authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow. The only
	// response type this server issues.
	CodeResponseType ResponseType = "code"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge
// method. The type declares "plain" for wire compatibility, but the authorize
// flow only accepts S256.
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing of the code verifier.
	// Server validates: BASE64URL(SHA256(code_verifier)) == stored challenge.
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain means the verifier is sent unhashed. Declared but
	// rejected at the authorization endpoint.
	CodeMethodTypePlain CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges a single-use authorization code
	// (plus a PKCE verifier) for a token set.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenGrant exchanges a refresh token for a rotated token set.
	RefreshTokenGrant GrantType = "refresh_token"
)

// BearerTokenType is the token_type value returned with every token set.
const BearerTokenType = "Bearer"
