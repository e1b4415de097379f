package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/mediadb/credentials"
	"github.com/wolfeidau/mediadb/credentials/opprovider"
	"github.com/wolfeidau/mediadb/server"
	"github.com/wolfeidau/mediadb/telemetry"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Address          string        `help:"Address to listen on." default:":8080" env:"MEDIADB_ADDRESS"`
	AuthToken        string        `help:"Bearer token required on /api/ routes (empty disables auth)." env:"MEDIADB_AUTH_TOKEN"`
	CredentialsFile  string        `help:"Credentials template resolving auth_token (supports env, file and op functions)." type:"path" env:"MEDIADB_CREDENTIALS_FILE"`
	AutosaveInterval time.Duration `help:"How often unsaved changes are written back (0 disables)." default:"5m" env:"MEDIADB_AUTOSAVE_INTERVAL"`
	MaxResults       int           `help:"Maximum entries returned by one query (0 for no cap)." default:"10000" env:"MEDIADB_MAX_RESULTS"`
	Prometheus       bool          `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:"" env:"MEDIADB_PROMETHEUS"`
	OTLPEndpoint     string        `help:"OTLP gRPC endpoint for metric export (e.g. localhost:4317)." env:"MEDIADB_OTLP_ENDPOINT"`
}

func (c *ServeCmd) Run(g *Globals) error {
	logger := g.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "mediadb",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	authToken := c.AuthToken
	if c.CredentialsFile != "" {
		resolver := credentials.NewResolver(
			credentials.WithLogger(logger.With("component", "credentials")),
			opprovider.WithOnePassword(),
		)
		creds, err := resolver.ResolveFile(ctx, c.CredentialsFile)
		if err != nil {
			return fmt.Errorf("resolving credentials: %w", err)
		}
		if creds.AuthToken != "" {
			authToken = creds.AuthToken
		}
	}

	lib, err := g.openLibrary(telemetry.WithSource(ctx, "cli"))
	if err != nil {
		return err
	}
	defer lib.Close()

	srv, err := server.New(lib.db, lib.file, server.Config{
		Address:          c.Address,
		AuthToken:        authToken,
		AutosaveInterval: c.AutosaveInterval,
		MaxResults:       c.MaxResults,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"entries", lib.db.Count(),
		"library", lib.file.Key(),
		"auth", authToken != "",
	)

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
