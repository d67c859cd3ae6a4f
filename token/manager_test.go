package token_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/idplane/auth-core/token"
	"github.com/idplane/auth-core/token/repofake"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testKeyID    = "key-1"
	testIssuer   = "https://auth.example.com"
	testClientID = "client-1"
)

func testContext() token.AccessTokenContext {
	return token.AccessTokenContext{
		UserID:         "user-1",
		ClientID:       testClientID,
		ProductID:      "product-1",
		TenantID:       "tenant-1",
		OrganizationID: "org-1",
		Roles:          []string{"admin"},
		Scope:          "openid profile",
		SessionID:      "session-1",
		Email:          "john.doe@example.com",
		Nonce:          "nonce-1",
	}
}

type managerFixture struct {
	repo    *repofake.FakeRefreshTokenRepo
	manager *token.Manager
	now     time.Time
}

func setupManager(t *testing.T, options ...token.ManagerOption) *managerFixture {
	t.Helper()

	f := &managerFixture{
		repo: repofake.NewFakeRefreshTokenRepo(),
		now:  time.Now(),
	}

	opts := append([]token.ManagerOption{
		token.WithNowFunc(func() time.Time { return f.now }),
		token.WithTokenExpiry(15*time.Minute, 24*time.Hour),
	}, options...)

	signer := token.NewHMACSigner(testSecret, testKeyID)
	manager, err := token.New(f.repo, signer, testIssuer, opts...)
	require.NoError(t, err)
	f.manager = manager
	return f
}

func TestIssueTokenSetAndVerify(t *testing.T) {
	f := setupManager(t)

	resp, err := f.manager.IssueTokenSet(context.Background(), testContext(), token.IssueOptions{})
	require.NoError(t, err)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, int((15 * time.Minute).Seconds()), resp.ExpiresIn)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotEmpty(t, resp.IDToken)
	require.Equal(t, "openid profile", resp.Scope)

	claims, err := f.manager.VerifyAccessToken(resp.AccessToken, testClientID)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "tenant-1", claims.TenantID)
	require.Equal(t, "org-1", claims.OrganizationID)
	require.Equal(t, "product-1", claims.ProductID)
	require.Equal(t, []string{"admin"}, claims.Roles)
	require.Equal(t, "session-1", claims.SessionID)
}

func TestVerifyAccessTokenRejectsWrongKey(t *testing.T) {
	f := setupManager(t)

	otherSigner := token.NewHMACSigner("another-secret-another-secret-ab", testKeyID)
	otherManager, err := token.New(repofake.NewFakeRefreshTokenRepo(), otherSigner, testIssuer)
	require.NoError(t, err)

	resp, err := otherManager.IssueTokenSet(context.Background(), testContext(), token.IssueOptions{})
	require.NoError(t, err)

	_, err = f.manager.VerifyAccessToken(resp.AccessToken, testClientID)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestVerifyAccessTokenRejectsExpired(t *testing.T) {
	f := setupManager(t)

	resp, err := f.manager.IssueTokenSet(context.Background(), testContext(), token.IssueOptions{})
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)

	_, err = f.manager.VerifyAccessToken(resp.AccessToken, testClientID)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestVerifyAccessTokenRejectsWrongAudience(t *testing.T) {
	f := setupManager(t)

	resp, err := f.manager.IssueTokenSet(context.Background(), testContext(), token.IssueOptions{})
	require.NoError(t, err)

	_, err = f.manager.VerifyAccessToken(resp.AccessToken, "some-other-client")
	require.ErrorIs(t, err, token.ErrInvalidToken)

	// Audience check is optional when no expectation is supplied.
	_, err = f.manager.VerifyAccessToken(resp.AccessToken, "")
	require.NoError(t, err)
}

func TestVerifyAccessTokenRejectsWrongIssuer(t *testing.T) {
	f := setupManager(t)

	signer := token.NewHMACSigner(testSecret, testKeyID)
	otherIssuer, err := token.New(repofake.NewFakeRefreshTokenRepo(), signer, "https://other.example.com",
		token.WithNowFunc(func() time.Time { return f.now }))
	require.NoError(t, err)

	resp, err := otherIssuer.IssueTokenSet(context.Background(), testContext(), token.IssueOptions{})
	require.NoError(t, err)

	_, err = f.manager.VerifyAccessToken(resp.AccessToken, testClientID)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestValidateRefreshToken(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	resp, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{})
	require.NoError(t, err)

	record, err := f.manager.ValidateRefreshToken(ctx, resp.RefreshToken, testClientID)
	require.NoError(t, err)
	require.Equal(t, "user-1", record.UserID)
	require.Equal(t, "session-1", record.SessionID)

	_, err = f.manager.ValidateRefreshToken(ctx, resp.RefreshToken, "wrong-client")
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)

	_, err = f.manager.ValidateRefreshToken(ctx, "not-a-token", testClientID)
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)
}

func TestValidateRefreshTokenExpiryLazilyRevokes(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	resp, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{})
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)

	_, err = f.manager.ValidateRefreshToken(ctx, resp.RefreshToken, testClientID)
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)

	// Lazy cleanup marked the stored record revoked.
	stored, err := f.repo.Get(ctx, token.HashToken(resp.RefreshToken))
	require.NoError(t, err)
	require.False(t, stored.RevokedAt.IsZero())
}

func TestRotationRevokesPredecessor(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	first, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{})
	require.NoError(t, err)

	record, err := f.manager.ValidateRefreshToken(ctx, first.RefreshToken, testClientID)
	require.NoError(t, err)

	second, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{ExistingRefreshToken: record})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Predecessor is permanently unusable, successor remains valid.
	_, err = f.manager.ValidateRefreshToken(ctx, first.RefreshToken, testClientID)
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)

	_, err = f.manager.ValidateRefreshToken(ctx, second.RefreshToken, testClientID)
	require.NoError(t, err)
}

func TestIssueTokenSetFailsClosedOnPersistence(t *testing.T) {
	f := setupManager(t)
	f.repo.UpsertErr = errors.New("store down")

	resp, err := f.manager.IssueTokenSet(context.Background(), testContext(), token.IssueOptions{})
	require.Error(t, err)
	require.Nil(t, resp)
}

func TestRotationSurvivesRevokeFailure(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	first, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{})
	require.NoError(t, err)
	record, err := f.manager.ValidateRefreshToken(ctx, first.RefreshToken, testClientID)
	require.NoError(t, err)

	f.repo.RevokeErr = errors.New("store flake")
	second, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{ExistingRefreshToken: record})
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
	require.Equal(t, 1, f.manager.PendingRevocations())

	// Reconciler retries once the store recovers.
	f.repo.RevokeErr = nil
	f.manager.ReconcileRevocations(ctx)
	require.Equal(t, 0, f.manager.PendingRevocations())

	_, err = f.manager.ValidateRefreshToken(ctx, first.RefreshToken, testClientID)
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)
}

func TestRotateSession(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	first, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{})
	require.NoError(t, err)
	second, err := f.manager.IssueTokenSet(ctx, testContext(), token.IssueOptions{})
	require.NoError(t, err)

	otherSession := testContext()
	otherSession.SessionID = "session-2"
	third, err := f.manager.IssueTokenSet(ctx, otherSession, token.IssueOptions{})
	require.NoError(t, err)

	revoked, err := f.manager.RotateSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	_, err = f.manager.ValidateRefreshToken(ctx, first.RefreshToken, testClientID)
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)
	_, err = f.manager.ValidateRefreshToken(ctx, second.RefreshToken, testClientID)
	require.ErrorIs(t, err, token.ErrRefreshTokenNotFound)

	// Other sessions are untouched.
	_, err = f.manager.ValidateRefreshToken(ctx, third.RefreshToken, testClientID)
	require.NoError(t, err)
}

func TestJWKSDerivedFromSecret(t *testing.T) {
	f := setupManager(t)

	jwks, err := f.manager.JWKS()
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "oct", jwks.Keys[0].Kty)
	require.Equal(t, testKeyID, jwks.Keys[0].Kid)
	require.Equal(t, "HS256", jwks.Keys[0].Alg)
	require.NotEmpty(t, jwks.Keys[0].K)
	require.NotContains(t, jwks.Keys[0].K, testSecret)
}

func TestTokenTypHeaders(t *testing.T) {
	f := setupManager(t)

	access, err := f.manager.CreateAccessToken(testContext())
	require.NoError(t, err)
	id, err := f.manager.CreateIDToken(testContext())
	require.NoError(t, err)

	require.Equal(t, "at+jwt", headerTyp(t, access))
	require.Equal(t, "JWT", headerTyp(t, id))
}

func headerTyp(t *testing.T, raw string) string {
	t.Helper()

	parts := strings.SplitN(raw, ".", 2)
	require.NotEmpty(t, parts[0])

	decoded, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)

	var header struct {
		Typ string `json:"typ"`
		Kid string `json:"kid"`
	}
	require.NoError(t, json.Unmarshal(decoded, &header))
	require.Equal(t, testKeyID, header.Kid)
	return header.Typ
}
