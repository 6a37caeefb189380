// Copyright 2026 The BrokerGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokergate/brokergate/internal/audit"
	"github.com/brokergate/brokergate/internal/config"
	"github.com/brokergate/brokergate/internal/credentials"
	"github.com/brokergate/brokergate/internal/identity"
	"github.com/brokergate/brokergate/internal/janitor"
	"github.com/brokergate/brokergate/internal/oauth"
	"github.com/brokergate/brokergate/internal/observability/logger"
	"github.com/brokergate/brokergate/internal/observability/metrics"
	"github.com/brokergate/brokergate/internal/observability/tracing"
	"github.com/brokergate/brokergate/internal/store/postgres"
	transportHTTP "github.com/brokergate/brokergate/internal/transport/http"
	"github.com/brokergate/brokergate/internal/upstream"
	"github.com/brokergate/brokergate/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting brokergate authorization server")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize the vault; a bad key is fatal before the first request
	credentialVault, err := vault.New(cfg.Security.EncryptionKey)
	if err != nil {
		slog.Error("failed to initialize vault", logger.Error(err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewCodeRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	credentialRepo := postgres.NewCredentialRepository(db)
	stateRepo := postgres.NewUpstreamStateRepository(db)

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	identityService := identity.NewService(userRepo, identity.NewPasswordHasher(), auditLogger)
	credentialService := credentials.NewService(credentialRepo, credentialVault, auditLogger)
	tokenService := oauth.NewTokenService(
		[]byte(cfg.Security.JWTSecretKey),
		cfg.Server.PublicURL,
		cfg.Security.AccessTokenTTL,
		tokenRepo,
		userRepo,
	)
	oauthService := oauth.NewService(
		clientRepo,
		codeRepo,
		tokenRepo,
		tokenService,
		auditLogger,
		cfg.Security.AuthCodeTTL,
		cfg.Security.AccessTokenTTL,
		cfg.Security.RefreshTokenTTL,
	)

	var bridge *upstream.Bridge
	if cfg.Schwab.Enabled() {
		bridge = upstream.New(cfg.Schwab, stateRepo, identityService, credentialService, auditLogger)
		slog.Info("schwab upstream bridge enabled")
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		oauthService,
		tokenService,
		identityService,
		credentialService,
		bridge,
		auditLogger,
		cfg.Server.PublicURL,
	)

	router := transportHTTP.NewRouter(handler, transportHTTP.RateLimitConfig{
		LoginPerMinute:     cfg.RateLimit.LoginPerMinute,
		AuthorizePerMinute: cfg.RateLimit.AuthorizePerMinute,
		TokenPerMinute:     cfg.RateLimit.TokenPerMinute,
		Burst:              cfg.RateLimit.Burst,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start janitor goroutine
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go janitor.New(codeRepo, tokenRepo, stateRepo, cfg.Janitor.Interval).Run(janitorCtx)

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopJanitor()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
