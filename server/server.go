// Package server is the HTTP boundary of the authorization core. Handlers
// parse the wire, call the flows, and map protocol error values to status
// codes; no OAuth semantics live here.
package server

import (
	"net/http"

	"github.com/idplane/auth-core/auth"
	"github.com/idplane/auth-core/internal/config"
	"github.com/idplane/auth-core/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PrincipalFunc extracts the already-authenticated principal from a
// request. Returns nil when the caller carries no session; the authorize
// flow turns that into login_required. Session establishment is owned by
// the surrounding platform, typically a gateway setting identity headers.
type PrincipalFunc func(r *http.Request) *auth.Principal

// Server routes the OAuth2/OIDC endpoints.
type Server struct {
	mux       *http.ServeMux
	config    *config.Config
	auth      *auth.AuthorizationService
	tokens    *token.Manager
	principal PrincipalFunc
	logger    zerolog.Logger
}

// New creates the server and registers its routes.
func New(cfg *config.Config, authService *auth.AuthorizationService, tokens *token.Manager, principal PrincipalFunc, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[server.New] config is required")
	}
	if authService == nil {
		return nil, errors.New("[server.New] auth service is required")
	}
	if tokens == nil {
		return nil, errors.New("[server.New] token manager is required")
	}
	if principal == nil {
		principal = func(*http.Request) *auth.Principal { return nil }
	}

	s := &Server{
		mux:       http.NewServeMux(),
		config:    cfg,
		auth:      authService,
		tokens:    tokens,
		principal: principal,
		logger:    logger,
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) initRoutes() {
	s.mux.HandleFunc("GET /authorize", s.AuthorizeHandler())
	s.mux.HandleFunc("POST /token", s.TokenHandler())
	s.mux.HandleFunc("GET /userinfo", s.UserInfoHandler())
	s.mux.HandleFunc("POST /logout", s.LogoutHandler())
	s.mux.HandleFunc("GET /jwks", s.JWKSHandler())
	s.mux.HandleFunc("GET /.well-known/jwks.json", s.JWKSHandler())
	s.mux.HandleFunc("GET /.well-known/openid-configuration", s.WellKnownOpenIDConfigHandler())
}

// HeaderPrincipal resolves the principal from gateway identity headers.
// The platform gateway authenticates the browser session and forwards the
// identity; requests reaching this server directly carry no headers and
// resolve to nil.
func HeaderPrincipal(r *http.Request) *auth.Principal {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return nil
	}
	return &auth.Principal{
		UserID:    userID,
		Email:     r.Header.Get("X-User-Email"),
		SessionID: r.Header.Get("X-Session-Id"),
	}
}
