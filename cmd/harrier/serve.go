package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
)

var (
	// serve flags
	serveHost    string
	servePort    int
	serveWorkers int
	serveNoAsync bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and async worker",
	RunE:  runServe,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the active rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		printRules(cmd.OutOrStdout(), engine.RuleSet())
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 4, "concurrent datasets scored by the async worker")
	serveCmd.Flags().BoolVar(&serveNoAsync, "no-worker", false, "do not consume submitted datasets")

	rootCmd.AddCommand(serveCmd, rulesCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	// Create context with cancellation
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus; "none" disables /submit.
	var busImpl domain.EventBus
	if cfg.EventBus.Type != "none" {
		busImpl, err = bus.New(cfg.EventBus)
		if err != nil {
			return fmt.Errorf("failed to initialize event bus: %w", err)
		}
		defer busImpl.Close()
		slog.Info("event bus initialized", "type", cfg.EventBus.Type)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount(), "rule_set", engine.RuleSet().Version)

	m := metrics.New()

	processor := pipeline.NewProcessor(engine,
		pipeline.WithRepository(repo),
		pipeline.WithCache(cacheImpl, cfg.Cache.ReportTTL),
		pipeline.WithMetrics(m),
		pipeline.WithTopN(cfg.Scoring.TopN),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if busImpl != nil && !serveNoAsync {
		asyncWorker = worker.NewWorker(busImpl, processor)
		if err := asyncWorker.Start(worker.Config{Concurrency: serveWorkers}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "concurrency", serveWorkers)
	}

	srv := api.NewServer(cfg.Server, processor, repo, cacheImpl, busImpl, m, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(os.Stdout, cfg, Version)

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
	return nil
}

func printRules(w io.Writer, rs *domain.RuleSet) {
	fmt.Fprintf(w, "Rule set %s\n\n", rs.Version)
	fmt.Fprintf(w, "  %-24s %5s  %s\n", "ID", "SCORE", "LABEL")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("-", 76))
	for _, r := range rs.Rules {
		fmt.Fprintf(w, "  %-24s %+5d  %s\n", r.ID, r.Score, r.Label)
		fmt.Fprintf(w, "  %-24s %5s  %s\n", "", "", r.Expression)
	}

	l := rs.Limits
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Limits:")
	fmt.Fprintf(w, "  %-18s %v\n", "max_loss_ratio", l.MaxLossRatio)
	fmt.Fprintf(w, "  %-18s %v\n", "outlier_sigma", l.OutlierSigma)
	fmt.Fprintf(w, "  %-18s %d\n", "new_car_year", l.NewCarYear)
	fmt.Fprintf(w, "  %-18s %v\n", "new_car_loss", l.NewCarLoss)
	fmt.Fprintf(w, "  %-18s %d\n", "young_age", l.YoungAge)
	fmt.Fprintf(w, "  %-18s %v\n", "young_loss", l.YoungLoss)
	fmt.Fprintf(w, "  %-18s %v\n", "loss_quantile", l.LossQuantile)
	fmt.Fprintf(w, "  %-18s %v\n", "premium_quantile", l.PremiumQuantile)
}

func printBanner(w io.Writer, cfg *domain.Config, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "  ║                 HARRIER                   ║")
	fmt.Fprintln(w, "  ║      Claims Anomaly Scoring Engine        ║")
	fmt.Fprintln(w, "  ║       Eyes on every claim.                ║")
	fmt.Fprintln(w, "  ╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST   /score       - Score a dataset")
	fmt.Fprintln(w, "    POST   /submit      - Queue a dataset for the worker")
	fmt.Fprintln(w, "    POST   /portfolio   - Segment breakdown of a dataset")
	fmt.Fprintln(w, "    GET    /runs        - List stored runs")
	fmt.Fprintln(w, "    GET    /runs/{id}   - Get a run report")
	fmt.Fprintln(w, "    DELETE /runs/{id}   - Delete a run report")
	fmt.Fprintln(w, "    GET    /rules       - Active rule set")
	fmt.Fprintln(w, "    GET    /health      - Health check")
	if cfg.Server.MetricsEnabled {
		fmt.Fprintln(w, "    GET    /metrics     - Prometheus metrics")
	}
	fmt.Fprintln(w)
}
