package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/agenthub/pkg/api"
	"github.com/cuemby/agenthub/pkg/config"
	"github.com/cuemby/agenthub/pkg/hub"
	"github.com/cuemby/agenthub/pkg/log"
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/registry"
	"github.com/cuemby/agenthub/pkg/security"
	"github.com/cuemby/agenthub/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub",
	Long: `Run the hub: accept producer connections on /producer (loopback only),
dashboard connections on /ws, and serve the REST API, health probes and
metrics on the same address.

On first start with authentication enabled and no tokens on record, an
access token is created and printed once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:7420", "Address to listen on")
	serveCmd.Flags().Bool("persist", true, "Persist sessions and transcripts to the data directory")
	serveCmd.Flags().Bool("no-auth", false, "Accept dashboard connections without a token")
	serveCmd.Flags().String("token-db", "", "Token database path (default <data-dir>/tokens.db)")
	serveCmd.Flags().Int("max-events", registry.DefaultMaxTranscriptEvents, "Transcript events kept in memory per session")
}

func serve(cfg *config.Config) error {
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	var durable storage.Log
	if cfg.Persist {
		fl, err := storage.NewFileLog(cfg.DataDir)
		if err != nil {
			return err
		}
		defer fl.Close()
		durable = fl
	}

	reg, err := registry.New(registry.Config{
		Log:                 durable,
		MaxTranscriptEvents: cfg.Registry.MaxTranscriptEvents,
	})
	if err != nil {
		return err
	}
	st := reg.Stats()
	metrics.RegisterComponent("registry", true, fmt.Sprintf("%d sessions, %d events", st.Sessions, st.TranscriptEvents))

	var validator hub.TokenValidator
	if cfg.Auth.Disabled {
		logger.Warn().Msg("Authentication disabled: any dashboard may connect")
	} else {
		store, err := storage.NewBoltStore(cfg.Auth.TokenDB)
		if err != nil {
			return err
		}
		defer store.Close()

		tm := security.NewTokenManager(store)
		if err := bootstrapToken(tm); err != nil {
			return err
		}
		validator = tm
	}

	h := hub.New(reg, validator, hub.Config{
		RequestTimeout:  cfg.Hub.RequestTimeout,
		SweepInterval:   cfg.Hub.SweepInterval,
		SendBuffer:      cfg.Hub.SendBuffer,
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
	})
	defer h.Close()
	metrics.RegisterComponent("hub", true, "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go h.Run(ctx)

	server := api.NewServer(reg, h, validator)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddr)
	}()

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Bool("persist", cfg.Persist).
		Bool("auth", validator != nil).
		Msg("agenthub started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// bootstrapToken drops expired tokens and creates a first token when none
// are left, so a fresh install is reachable
func bootstrapToken(tm *security.TokenManager) error {
	if _, err := tm.CleanupExpiredTokens(); err != nil {
		return err
	}

	tokens, err := tm.ListTokens()
	if err != nil {
		return err
	}
	if len(tokens) > 0 {
		return nil
	}

	token, err := tm.GenerateToken("initial", 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Created initial access token (shown once):\n\n  %s\n\n", token.Secret)
	return nil
}
