// Package auth implements the authorize and token flow state machines.
// Each flow is an ordered list of hard gates; the first gate that fails
// produces a protocol error value (*oauth2.Error) which the transport layer
// maps to a status code. Infrastructure failures are returned as plain
// errors and never carry protocol codes.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/idplane/auth-core/audit"
	"github.com/idplane/auth-core/authcode"
	"github.com/idplane/auth-core/clients"
	"github.com/idplane/auth-core/entitlement"
	"github.com/idplane/auth-core/oauth2"
	"github.com/idplane/auth-core/token"
	"github.com/pkg/errors"
)

// Principal is the already-authenticated user attached to an authorize
// request. Establishing it (session cookies, SSO) happens upstream of this
// module.
type Principal struct {
	UserID    string
	Email     string
	SessionID string
}

// CodeStore is the slice of the authorization code store the flows consume.
// authcode.Store implements it; a multi-instance deployment substitutes a
// shared store with atomic get-and-delete.
type CodeStore interface {
	Create(payload authcode.Payload) (*authcode.Entry, error)
	Consume(code string) (*authcode.Entry, error)
}

// Repos holds the repository dependencies of the AuthorizationService.
type Repos struct {
	Clients      clients.Repo         // Registered client lookups
	Entitlements entitlement.Resolver // External entitlement system
}

// AuthorizationService runs the authorize and token flows.
type AuthorizationService struct {
	repos        Repos
	codeStore    CodeStore
	tokenManager *token.Manager
	recorder     audit.Recorder
}

// NewAuthorizationService initializes the service with required dependencies.
func NewAuthorizationService(repos Repos, codeStore CodeStore, tokenManager *token.Manager, recorder audit.Recorder) (*AuthorizationService, error) {
	if repos.Clients == nil {
		return nil, errors.New("[NewAuthorizationService] Clients repo is required")
	}
	if repos.Entitlements == nil {
		return nil, errors.New("[NewAuthorizationService] Entitlements resolver is required")
	}
	if codeStore == nil {
		return nil, errors.New("[NewAuthorizationService] codeStore is required")
	}
	if tokenManager == nil {
		return nil, errors.New("[NewAuthorizationService] tokenManager is required")
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	return &AuthorizationService{
		repos:        repos,
		codeStore:    codeStore,
		tokenManager: tokenManager,
		recorder:     recorder,
	}, nil
}

// AuthorizeResult is the successful outcome of the authorize flow: the URL
// the user agent is redirected to, carrying the code and original state.
type AuthorizeResult struct {
	RedirectURL string
}

// Authorize runs the authorization flow gates in order. principal is nil
// when the caller carries no authenticated session.
func (as *AuthorizationService) Authorize(ctx context.Context, principal *Principal, params *AuthorizationParameters) (*AuthorizeResult, error) {
	// Gate 1: request shape.
	if protoErr := params.validateShape(); protoErr != nil {
		return nil, protoErr
	}

	// Gate 2: authenticated session present.
	if principal == nil || principal.UserID == "" {
		return nil, oauth2.NewError(oauth2.ErrorLoginRequired, "authentication required")
	}

	// Gate 3: client resolved. Unknown clients are indistinguishable from
	// any other client failure.
	client, err := as.repos.Clients.Get(params.ClientID)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			return nil, invalidClient()
		}
		return nil, errors.Wrap(err, "[Authorize] clients.Get")
	}

	// Gate 4: redirect URI registered.
	if !client.HasRedirectURI(params.RedirectURI) {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "redirect_uri is not registered for this client")
	}

	// Gate 5: entitlement resolved.
	ent, err := as.resolveEntitlement(ctx, principal.UserID, client.ProductID, params.TenantID)
	if err != nil {
		return nil, err
	}

	// Gate 6: scope negotiated. No partial grants.
	scope, protoErr := negotiateScope(params.Scope, client)
	if protoErr != nil {
		return nil, protoErr
	}

	// Gate 7: code issued with the full resolved context.
	entry, err := as.codeStore.Create(authcode.Payload{
		UserID:              principal.UserID,
		ClientID:            client.ID,
		ProductID:           client.ProductID,
		TenantID:            ent.TenantID,
		OrganizationID:      ent.OrganizationID,
		RedirectURI:         params.RedirectURI,
		Scope:               scope,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: string(params.CodeChallengeMethod),
		SessionID:           principal.SessionID,
		Nonce:               params.Nonce,
		Email:               principal.Email,
		Roles:               ent.Roles,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Authorize] codeStore.Create")
	}

	// Gate 8: redirect with code and original state.
	redirectURL, err := appendRedirectParams(params.RedirectURI, entry.Code, params.State)
	if err != nil {
		return nil, errors.Wrap(err, "[Authorize] building redirect")
	}

	return &AuthorizeResult{RedirectURL: redirectURL}, nil
}

// Token runs the token flow. The two grant types are mutually exclusive.
func (as *AuthorizationService) Token(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	client, protoOrInfraErr := as.authenticateClient(req)
	if protoOrInfraErr != nil {
		return nil, protoOrInfraErr
	}

	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		return as.exchangeAuthorizationCode(ctx, client, req)
	case oauth2.RefreshTokenGrant:
		return as.exchangeRefreshToken(ctx, client, req)
	default:
		return nil, oauth2.NewError(oauth2.ErrorUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
}

// authenticateClient resolves the client and, when it has a registered
// secret, checks the presented secret against the stored hash. All client
// identity failures collapse to invalid_client.
func (as *AuthorizationService) authenticateClient(req oauth2.TokenRequest) (*clients.Client, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return nil, invalidClient()
	}

	client, err := as.repos.Clients.Get(req.ClientID)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			return nil, invalidClient()
		}
		return nil, errors.Wrap(err, "[authenticateClient] clients.Get")
	}

	if client.SecretHash != "" && !client.VerifySecret(req.ClientSecret) {
		return nil, invalidClient()
	}

	return client, nil
}

func (as *AuthorizationService) exchangeAuthorizationCode(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.Code == "" || req.CodeVerifier == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "code and code_verifier are required")
	}

	// One-shot: the code is gone after this call whatever happens next.
	entry, err := as.codeStore.Consume(req.Code)
	if err != nil {
		if errors.Is(err, authcode.ErrCodeNotFound) {
			return nil, invalidGrant()
		}
		return nil, errors.Wrap(err, "[exchangeAuthorizationCode] codeStore.Consume")
	}

	if entry.ClientID != client.ID || entry.RedirectURI != req.RedirectURI {
		return nil, invalidGrant()
	}

	if !verifyCodeChallenge(entry.CodeChallenge, req.CodeVerifier) {
		return nil, invalidGrant()
	}

	resp, err := as.tokenManager.IssueTokenSet(ctx, contextFromCode(entry), token.IssueOptions{
		UserAgent:   req.UserAgent,
		IPAddress:   req.RemoteAddr,
		Description: "authorization_code grant",
	})
	if err != nil {
		return nil, errors.Wrap(err, "[exchangeAuthorizationCode] IssueTokenSet")
	}

	as.recorder.Record(ctx, audit.Event{
		Kind:      audit.TokenIssued,
		UserID:    entry.UserID,
		ClientID:  client.ID,
		TenantID:  entry.TenantID,
		SessionID: entry.SessionID,
		GrantType: string(oauth2.AuthorizationCodeGrant),
		IPAddress: req.RemoteAddr,
		UserAgent: req.UserAgent,
	})

	return resp, nil
}

func (as *AuthorizationService) exchangeRefreshToken(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "refresh_token is required")
	}

	record, err := as.tokenManager.ValidateRefreshToken(ctx, req.RefreshToken, client.ID)
	if err != nil {
		if errors.Is(err, token.ErrRefreshTokenNotFound) {
			return nil, invalidGrant()
		}
		return nil, errors.Wrap(err, "[exchangeRefreshToken] ValidateRefreshToken")
	}

	// The entitlement behind the original grant must still be active. A
	// revoked entitlement kills the refresh chain even before token expiry.
	ent, err := as.resolveEntitlement(ctx, record.UserID, record.ProductID, record.TenantID)
	if err != nil {
		return nil, err
	}

	resp, err := as.tokenManager.IssueTokenSet(ctx, contextFromRefresh(record, ent), token.IssueOptions{
		ExistingRefreshToken: record,
		UserAgent:            req.UserAgent,
		IPAddress:            req.RemoteAddr,
		Description:          "refresh_token grant",
	})
	if err != nil {
		return nil, errors.Wrap(err, "[exchangeRefreshToken] IssueTokenSet")
	}

	as.recorder.Record(ctx, audit.Event{
		Kind:      audit.TokenRefreshed,
		UserID:    record.UserID,
		ClientID:  client.ID,
		TenantID:  record.TenantID,
		SessionID: record.SessionID,
		GrantType: string(oauth2.RefreshTokenGrant),
		IPAddress: req.RemoteAddr,
		UserAgent: req.UserAgent,
	})

	return resp, nil
}

// resolveEntitlement fetches the user's active entitlements for a product.
// A requested tenant must match exactly; otherwise the first active
// entitlement wins. No match is access_denied.
func (as *AuthorizationService) resolveEntitlement(ctx context.Context, userID, productID, tenantID string) (*entitlement.Entitlement, error) {
	ents, err := as.repos.Entitlements.ActiveEntitlements(ctx, userID, productID)
	if err != nil {
		return nil, errors.Wrap(err, "[resolveEntitlement] ActiveEntitlements")
	}

	if tenantID != "" {
		for _, e := range ents {
			if e.TenantID == tenantID {
				return &e, nil
			}
		}
		return nil, accessDenied()
	}

	if len(ents) == 0 {
		return nil, accessDenied()
	}
	return &ents[0], nil
}

// negotiateScope defaults an empty request to the product's full allowed
// list; any requested token outside the list is a hard failure.
func negotiateScope(requested string, client *clients.Client) (string, *oauth2.Error) {
	if strings.TrimSpace(requested) == "" {
		return strings.Join(client.Scopes, " "), nil
	}

	for _, s := range strings.Fields(requested) {
		if !client.HasScope(s) {
			return "", oauth2.NewError(oauth2.ErrorInvalidRequest, "requested scope is not allowed")
		}
	}
	return strings.Join(strings.Fields(requested), " "), nil
}

// verifyCodeChallenge checks BASE64URL(SHA256(verifier)) against the stored
// S256 challenge.
func verifyCodeChallenge(storedChallenge, verifier string) bool {
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == storedChallenge
}

func contextFromCode(entry *authcode.Entry) token.AccessTokenContext {
	return token.AccessTokenContext{
		UserID:         entry.UserID,
		ClientID:       entry.ClientID,
		ProductID:      entry.ProductID,
		TenantID:       entry.TenantID,
		OrganizationID: entry.OrganizationID,
		Roles:          entry.Roles,
		Scope:          entry.Scope,
		SessionID:      entry.SessionID,
		Email:          entry.Email,
		Nonce:          entry.Nonce,
	}
}

// contextFromRefresh rebuilds the token context from the durable record,
// taking roles and organization from the freshly resolved entitlement so a
// role change since issuance is reflected in the new tokens.
func contextFromRefresh(record *token.RefreshToken, ent *entitlement.Entitlement) token.AccessTokenContext {
	return token.AccessTokenContext{
		UserID:         record.UserID,
		ClientID:       record.ClientID,
		ProductID:      record.ProductID,
		TenantID:       record.TenantID,
		OrganizationID: ent.OrganizationID,
		Roles:          ent.Roles,
		Scope:          record.Scope,
		SessionID:      record.SessionID,
		Email:          record.Email,
	}
}

func appendRedirectParams(redirectURI, code, state string) (string, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("code", code)
	if state != "" {
		query.Set("state", state)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func invalidClient() *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorInvalidClient, "client authentication failed")
}

func invalidGrant() *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid or expired grant")
}

func accessDenied() *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorAccessDenied, "no active entitlement")
}
