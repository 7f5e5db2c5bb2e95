// Package commands – serve.go starts the agentloom daemon: HTTP pipeline
// endpoints, the trigger scheduler loop, and the dashboard event relay.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/agentloom/agentloom/pkg/agentloom/builder"
	"github.com/agentloom/agentloom/pkg/agentloom/capability"
	"github.com/agentloom/agentloom/pkg/agentloom/config"
	"github.com/agentloom/agentloom/pkg/agentloom/gateway"
	"github.com/agentloom/agentloom/pkg/agentloom/pipeline"
	"github.com/agentloom/agentloom/pkg/agentloom/planner"
	"github.com/agentloom/agentloom/pkg/agentloom/scheduler"
	"github.com/agentloom/agentloom/pkg/agentloom/server"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
	"github.com/agentloom/agentloom/pkg/agentloom/trigger"
)

// newServeCmd creates the `agentloom serve` command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agentloom daemon",
		Long: `Start agentloom as a daemon: the negotiation and build endpoints,
the time-based trigger scheduler, and the dashboard WebSocket relay.

Examples:
  agentloom serve
  agentloom serve --config ./agentloom.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Open store ──
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db, cfg.Database.Driver)
	logger.Info("database opened", "driver", cfg.Database.Driver)

	// ── Collaborators ──
	prov := planner.NewAnthropic(func(o *planner.Options) {
		o.Model = anthropic.Model(cfg.Planner.Model)
		o.MaxTokens = int64(cfg.Planner.MaxTokens)
		o.APIKey = cfg.Planner.APIKey
	})
	registry := capability.NewStoreRegistry(st)

	sched := scheduler.New(st, func(ctx context.Context, b *store.Behaviour) error {
		// Behaviour execution is handled by the external runner; the
		// daemon only records the firing.
		logger.Info("behaviour fired", "behaviour", b.ID, "agent", b.AgentID)
		return nil
	}, logger)

	disp := trigger.New(st, sched, logger)

	bld := builder.New(st, disp, logger)
	bld.DefaultModel = cfg.Build.DefaultModel
	bld.Pacing = time.Duration(cfg.Build.PacingMs) * time.Millisecond

	pipe := pipeline.New(prov, prov, registry, nil, logger)

	hub := gateway.NewHub(logger)
	srv := server.New(pipe, bld, st, disp, hub, logger)

	// ── Run ──
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sched.Run(ctx)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
