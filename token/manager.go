// Package token implements the token service: issuing and verifying signed
// access and ID tokens, and issuing, rotating, and revoking the opaque
// refresh tokens persisted in the durable store.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/idplane/auth-core/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	refreshTokenLength = 48 // 384 bits of entropy
	maxRevokeRetries   = 10
)

// ErrInvalidToken is the single signal for every access token verification
// failure. Signature, expiry, issuer, and audience mismatches all collapse
// to it so callers cannot probe which check failed.
var ErrInvalidToken = errors.New("invalid token")

// IssueOptions modifies token set issuance.
type IssueOptions struct {
	// ExistingRefreshToken, when set, is revoked as part of rotation. A
	// revoke failure does not abort issuance; the hash is handed to the
	// background reconciler instead.
	ExistingRefreshToken *RefreshToken

	// Audit metadata stamped onto the new refresh token record.
	Description string
	UserAgent   string
	IPAddress   string
}

// Manager is the token service.
type Manager struct {
	repo               RefreshTokenRepo
	signer             Signer
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
	logger             zerolog.Logger

	retryMu       sync.Mutex
	retryRevokes  map[string]int // token hash -> attempts
	retryInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// ManagerOption modifies a Manager at construction time.
type ManagerOption func(*Manager)

// WithTokenExpiry sets the access and refresh token lifetimes.
func WithTokenExpiry(accessTokenExpiry, refreshTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRetryInterval sets the revoke reconciler interval.
func WithRetryInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryInterval = interval
	}
}

// New creates a token manager issuing tokens under the given issuer.
func New(repo RefreshTokenRepo, signer Signer, issuer string, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[token.New] refresh token repo is required")
	}
	if signer == nil {
		return nil, errors.New("[token.New] signer is required")
	}
	if issuer == "" {
		return nil, errors.New("[token.New] issuer is required")
	}

	m := &Manager{
		repo:          repo,
		signer:        signer,
		issuer:        issuer,
		nowFunc:       time.Now,
		logger:        zerolog.Nop(),
		retryRevokes:  make(map[string]int),
		retryInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = 15 * time.Minute
	}
	if m.refreshTokenExpiry == 0 {
		m.refreshTokenExpiry = 30 * 24 * time.Hour
	}

	return m, nil
}

// CreateAccessToken builds and signs an access token from the context.
// Expiry is now + accessTokenExpiry at signing time, never caller-supplied.
func (m *Manager) CreateAccessToken(tc AccessTokenContext) (string, error) {
	claims := NewAccessTokenClaims(tc, m.issuer, m.nowFunc(), m.accessTokenExpiry)
	return m.signer.Sign(claims, AccessTokenType)
}

// CreateIDToken builds and signs an ID token from the context, echoing the
// request nonce when present.
func (m *Manager) CreateIDToken(tc AccessTokenContext) (string, error) {
	claims := NewIDTokenClaims(tc, m.issuer, m.nowFunc(), m.accessTokenExpiry)
	return m.signer.Sign(claims, IDTokenType)
}

// IssueTokenSet mints a full token set: signed access and ID tokens plus a
// new opaque refresh token whose hash is persisted before anything is
// returned. If persistence fails no token set is returned. When
// opts.ExistingRefreshToken is set it is revoked best-effort after the
// successor exists; a revoke failure is queued for reconciliation rather
// than failing the rotation.
func (m *Manager) IssueTokenSet(ctx context.Context, tc AccessTokenContext, opts IssueOptions) (*oauth2.TokenResponse, error) {
	accessToken, err := m.CreateAccessToken(tc)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.IssueTokenSet] CreateAccessToken")
	}

	idToken, err := m.CreateIDToken(tc)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.IssueTokenSet] CreateIDToken")
	}

	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, errors.Wrap(err, "[Manager.IssueTokenSet] rand.Read")
	}
	rawRefresh := base64.RawURLEncoding.EncodeToString(tokenBytes)

	now := m.nowFunc()
	record := &RefreshToken{
		TokenHash:      HashToken(rawRefresh),
		UserID:         tc.UserID,
		ClientID:       tc.ClientID,
		ProductID:      tc.ProductID,
		TenantID:       tc.TenantID,
		OrganizationID: tc.OrganizationID,
		SessionID:      tc.SessionID,
		Scope:          tc.Scope,
		Roles:          append([]string(nil), tc.Roles...),
		Email:          tc.Email,
		Description:    opts.Description,
		UserAgent:      opts.UserAgent,
		IPAddress:      opts.IPAddress,
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.refreshTokenExpiry),
	}

	if err := m.repo.Upsert(ctx, record); err != nil {
		return nil, errors.Wrap(err, "[Manager.IssueTokenSet] refresh token upsert")
	}

	if opts.ExistingRefreshToken != nil {
		m.revokeBestEffort(ctx, opts.ExistingRefreshToken.TokenHash)
	}

	return &oauth2.TokenResponse{
		AccessToken:  accessToken,
		IDToken:      idToken,
		TokenType:    oauth2.BearerTokenType,
		ExpiresIn:    int(m.accessTokenExpiry.Seconds()),
		RefreshToken: rawRefresh,
		Scope:        tc.Scope,
	}, nil
}

// VerifyAccessToken validates signature, issuer, expiry, and, when
// expectedAudience is non-empty, audience. Any failure returns
// ErrInvalidToken with no detail about which check broke.
func (m *Manager) VerifyAccessToken(raw, expectedAudience string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.nowFunc),
		jwt.WithExpirationRequired(),
	}
	if expectedAudience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(expectedAudience))
	}

	parsed, err := jwt.ParseWithClaims(raw, claims, m.signer.GetVerificationKey, parserOpts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefreshToken hashes the presented token and looks up the durable
// record. Absent, revoked, expired, and wrong-client records all return
// ErrRefreshTokenNotFound; expiry additionally revokes the record as lazy
// cleanup. Store failures propagate as hard errors.
func (m *Manager) ValidateRefreshToken(ctx context.Context, raw, clientID string) (*RefreshToken, error) {
	record, err := m.repo.Get(ctx, HashToken(raw))
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, errors.Wrap(err, "[Manager.ValidateRefreshToken] repo.Get")
	}

	if record.ClientID != clientID || !record.RevokedAt.IsZero() {
		return nil, ErrRefreshTokenNotFound
	}

	if !m.nowFunc().Before(record.ExpiresAt) {
		m.revokeBestEffort(ctx, record.TokenHash)
		return nil, ErrRefreshTokenNotFound
	}

	return record, nil
}

// RotateSession revokes every active refresh token bound to a session.
// Used on explicit logout or detected compromise.
func (m *Manager) RotateSession(ctx context.Context, sessionID string) (int, error) {
	revoked, err := m.repo.RevokeSession(ctx, sessionID, m.nowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "[Manager.RotateSession] repo.RevokeSession")
	}
	m.logger.Info().
		Str("session_id", sessionID).
		Int("revoked", revoked).
		Msg("session refresh tokens revoked")
	return revoked, nil
}

// JWKS exports the verification material resource servers use.
func (m *Manager) JWKS() (*JWKS, error) {
	exporter, ok := m.signer.(interface{ JWKS() *JWKS })
	if !ok {
		return nil, errors.New("[Manager.JWKS] signer does not export verification material")
	}
	return exporter.JWKS(), nil
}

// Start launches the revoke reconciler. Revokes that failed during
// rotation are retried until they succeed or exhaust their attempts.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.ReconcileRevocations(ctx)
			}
		}
	}()
}

// Stop ends the reconciler and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.done
}

// ReconcileRevocations retries every queued revoke once. The background
// loop calls it on its interval; tests call it directly.
func (m *Manager) ReconcileRevocations(ctx context.Context) {
	m.retryMu.Lock()
	pending := make(map[string]int, len(m.retryRevokes))
	for hash, attempts := range m.retryRevokes {
		pending[hash] = attempts
	}
	m.retryMu.Unlock()

	for hash, attempts := range pending {
		err := m.repo.Revoke(ctx, hash, m.nowFunc())

		m.retryMu.Lock()
		if err == nil {
			delete(m.retryRevokes, hash)
		} else if attempts+1 >= maxRevokeRetries {
			delete(m.retryRevokes, hash)
			m.logger.Error().Err(err).Msg("giving up revoking rotated refresh token")
		} else {
			m.retryRevokes[hash] = attempts + 1
		}
		m.retryMu.Unlock()
	}
}

// PendingRevocations reports how many failed revokes await reconciliation.
func (m *Manager) PendingRevocations() int {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	return len(m.retryRevokes)
}

func (m *Manager) revokeBestEffort(ctx context.Context, tokenHash string) {
	if err := m.repo.Revoke(ctx, tokenHash, m.nowFunc()); err != nil {
		m.logger.Warn().Err(err).Msg("refresh token revoke failed, queueing for reconciliation")
		m.retryMu.Lock()
		m.retryRevokes[tokenHash] = 0
		m.retryMu.Unlock()
	}
}
