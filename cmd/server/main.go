package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/idplane/auth-core/audit"
	"github.com/idplane/auth-core/auth"
	"github.com/idplane/auth-core/authcode"
	"github.com/idplane/auth-core/clients"
	"github.com/idplane/auth-core/entitlement"
	"github.com/idplane/auth-core/internal/bootstrap"
	"github.com/idplane/auth-core/internal/config"
	"github.com/idplane/auth-core/server"
	"github.com/idplane/auth-core/token"
	"github.com/idplane/auth-core/token/boltstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config.Load")
	}
	displayAppname(cfg.AppName)

	logger := newLogger(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.TokenStorePath), 0o700); err != nil {
		return errors.Wrap(err, "creating token store directory")
	}
	tokenStore, err := boltstore.Open(cfg.TokenStorePath)
	if err != nil {
		return errors.Wrap(err, "boltstore.Open")
	}
	defer tokenStore.Close()

	signer := token.NewHMACSigner(cfg.SigningSecret, cfg.SigningKeyID)
	tokenManager, err := token.New(tokenStore, signer, cfg.Issuer,
		token.WithTokenExpiry(cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		token.WithLogger(logger.With().Str("component", "token").Logger()),
	)
	if err != nil {
		return errors.Wrap(err, "token.New")
	}

	codeStore, err := authcode.NewStore(cfg.AuthCodeTTL,
		authcode.WithLogger(logger.With().Str("component", "authcode").Logger()))
	if err != nil {
		return errors.Wrap(err, "authcode.NewStore")
	}

	clientRepo, resolver, err := loadRegistries(cfg, logger)
	if err != nil {
		return err
	}

	authService, err := auth.NewAuthorizationService(
		auth.Repos{Clients: clientRepo, Entitlements: resolver},
		codeStore,
		tokenManager,
		audit.NewLogRecorder(logger.With().Str("component", "audit").Logger()),
	)
	if err != nil {
		return errors.Wrap(err, "auth.NewAuthorizationService")
	}

	srv, err := server.New(cfg, authService, tokenManager, server.HeaderPrincipal, logger)
	if err != nil {
		return errors.Wrap(err, "server.New")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	codeStore.Start(ctx)
	tokenManager.Start(ctx)

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: srv}
	go listenAndServe(httpServer, logger)
	waitForStopSignal()

	returnError = shutdown(httpServer)
	cancel()
	codeStore.Stop()
	tokenManager.Stop()
	return returnError
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.Env == "DEV" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadRegistries reads the client and entitlement snapshots. A missing
// file is tolerated so the server can boot in an empty environment.
func loadRegistries(cfg *config.Config, logger zerolog.Logger) (clients.Repo, entitlement.Resolver, error) {
	var clientRepo clients.Repo
	clientRepo, err := bootstrap.LoadClients(cfg.ClientsFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, errors.Wrap(err, "bootstrap.LoadClients")
		}
		logger.Warn().Str("path", cfg.ClientsFile).Msg("no client snapshot, starting with empty registry")
		clientRepo = bootstrap.NoClients()
	}

	var resolver entitlement.Resolver
	resolver, err = bootstrap.LoadEntitlements(cfg.EntitlementsFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, errors.Wrap(err, "bootstrap.LoadEntitlements")
		}
		logger.Warn().Str("path", cfg.EntitlementsFile).Msg("no entitlement snapshot, starting with empty resolver")
		resolver = bootstrap.NoEntitlements()
	}

	return clientRepo, resolver, nil
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
