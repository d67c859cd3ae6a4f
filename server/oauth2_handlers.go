package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/idplane/auth-core/auth"
	"github.com/idplane/auth-core/oauth2"
	"github.com/idplane/auth-core/token"
)

const refreshTokenCookie = "refresh_token"

// AuthorizeHandler begins the authorization code flow.
func (s *Server) AuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := &auth.AuthorizationParameters{
			ResponseType:        oauth2.ResponseType(query.Get("response_type")),
			ClientID:            query.Get("client_id"),
			RedirectURI:         query.Get("redirect_uri"),
			Scope:               query.Get("scope"),
			State:               query.Get("state"),
			CodeChallenge:       query.Get("code_challenge"),
			CodeChallengeMethod: oauth2.CodeMethodType(query.Get("code_challenge_method")),
			TenantID:            query.Get("tenant_id"),
			Nonce:               query.Get("nonce"),
		}

		result, err := s.auth.Authorize(r.Context(), s.principal(r), params)
		if err != nil {
			s.writeFlowError(w, err)
			return
		}

		setNoStoreHeaders(w)
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	}
}

// TokenHandler exchanges a code or refresh token for a token set.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenReq, ok := parseTokenRequest(r)
		if !ok {
			s.writeFlowError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed request body"))
			return
		}

		// Browser clients hold the refresh token only in the cookie.
		if tokenReq.GrantType == oauth2.RefreshTokenGrant && tokenReq.RefreshToken == "" {
			if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
				tokenReq.RefreshToken = cookie.Value
			}
		}

		resp, err := s.auth.Token(r.Context(), tokenReq)
		if err != nil {
			s.writeFlowError(w, err)
			return
		}

		s.setRefreshCookie(w, resp.RefreshToken)
		setNoStoreHeaders(w)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// UserInfoHandler returns the claims of a presented access token.
func (s *Server) UserInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, protoErr := s.bearerClaims(r)
		if protoErr != nil {
			s.writeFlowError(w, protoErr)
			return
		}

		userInfo := map[string]any{
			"sub":     claims.Subject,
			"tenant":  claims.TenantID,
			"product": claims.ProductID,
			"scope":   claims.Scope,
		}
		if claims.OrganizationID != "" {
			userInfo["org"] = claims.OrganizationID
		}
		if len(claims.Roles) > 0 {
			userInfo["roles"] = claims.Roles
		}
		if claims.Email != "" {
			userInfo["email"] = claims.Email
		}
		if claims.SessionID != "" {
			userInfo["sid"] = claims.SessionID
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(userInfo)
	}
}

// LogoutHandler revokes every refresh token bound to the caller's session.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, protoErr := s.bearerClaims(r)
		if protoErr != nil {
			s.writeFlowError(w, protoErr)
			return
		}
		if claims.SessionID == "" {
			s.writeFlowError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "token carries no session"))
			return
		}

		if _, err := s.tokens.RotateSession(r.Context(), claims.SessionID); err != nil {
			s.writeFlowError(w, err)
			return
		}

		// Clear the refresh cookie.
		http.SetCookie(w, &http.Cookie{
			Name:     refreshTokenCookie,
			Value:    "",
			Path:     "/token",
			Domain:   s.config.CookieDomain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// JWKSHandler serves the verification key set. Signing is symmetric, so
// the material is derived and only usable inside the platform; see the
// design notes before pointing external relying parties at it.
func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.tokens.JWKS()
		if err != nil {
			s.writeFlowError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jwks)
	}
}

// WellKnownOpenIDConfigHandler serves the OIDC discovery document.
func (s *Server) WellKnownOpenIDConfigHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer := s.config.Issuer
		resp := map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"userinfo_endpoint":      issuer + "/userinfo",
			"jwks_uri":               issuer + "/.well-known/jwks.json",
			"end_session_endpoint":   issuer + "/logout",

			"response_types_supported":              []string{"code"},
			"response_modes_supported":              []string{"query"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"HS256"},
			"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
			"code_challenge_methods_supported":      []string{"S256"},
			"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
			"scopes_supported":                      []string{"openid", "profile", "email", "offline_access"},
			"claims_supported":                      []string{"sub", "email", "tenant", "org", "product", "roles", "sid"},
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func parseTokenRequest(r *http.Request) (oauth2.TokenRequest, bool) {
	tokenReq := oauth2.TokenRequest{
		UserAgent:  r.UserAgent(),
		RemoteAddr: remoteIP(r),
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&tokenReq); err != nil {
			return tokenReq, false
		}
		return tokenReq, true
	}

	if err := r.ParseForm(); err != nil {
		return tokenReq, false
	}
	tokenReq.GrantType = oauth2.GrantType(r.FormValue("grant_type"))
	tokenReq.ClientID = r.FormValue("client_id")
	tokenReq.ClientSecret = r.FormValue("client_secret")
	tokenReq.Code = r.FormValue("code")
	tokenReq.CodeVerifier = r.FormValue("code_verifier")
	tokenReq.RedirectURI = r.FormValue("redirect_uri")
	tokenReq.RefreshToken = r.FormValue("refresh_token")
	return tokenReq, true
}

func (s *Server) bearerClaims(r *http.Request) (*token.AccessTokenClaims, *oauth2.Error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, oauth2.NewError(oauth2.ErrorInvalidToken, "bearer token required")
	}

	claims, err := s.tokens.VerifyAccessToken(strings.TrimPrefix(header, "Bearer "), "")
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidToken, "token verification failed")
	}
	return claims, nil
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    refreshToken,
		Path:     "/token",
		Domain:   s.config.CookieDomain,
		MaxAge:   int(s.config.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeFlowError maps flow outcomes onto the wire. Protocol errors render
// their own code and status; anything else is an infrastructure fault
// logged with context and collapsed to an opaque 500.
func (s *Server) writeFlowError(w http.ResponseWriter, err error) {
	setNoStoreHeaders(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if protoErr, ok := oauth2.AsError(err); ok {
		s.logger.Debug().Str("error", string(protoErr.Code)).Msg("flow rejected")
		w.WriteHeader(protoErr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(protoErr)
		return
	}

	s.logger.Error().Err(err).Msg("flow failed")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(oauth2.NewError(oauth2.ErrorServerError, "internal error"))
}

func setNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
