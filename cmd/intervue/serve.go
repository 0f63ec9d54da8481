package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervue/internal/app"
	"github.com/MrWong99/intervue/internal/config"
	"github.com/MrWong99/intervue/internal/observe"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	Long: `Start the interview assistant server.

Examples:
  # Start with defaults (listens on :8004)
  intervue serve

  # Start with a config file
  intervue serve --config /etc/intervue/config.yaml

  # Override the listen address
  intervue serve --listen 127.0.0.1:9000

  # Validate config and providers without starting the server
  intervue serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddr = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		lvl := config.LogLevel(serveFlags.logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("invalid --log-level %q", serveFlags.logLevel)
		}
		cfg.Server.LogLevel = lvl
		slog.SetDefault(newLogger(lvl))
	}

	slog.Info("intervue starting",
		"version", Version,
		"config", cfgFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	printStartupSummary(cmd.OutOrStdout(), cfg, providers)
	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		return nil
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
		Contract:       cfg.Analysis.Contract,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, ps *app.Providers) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        intervue — startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", providerValue(cfg.Providers.LLM, ps.LLM != nil))
	printRow(w, "LLM fallback", providerValue(cfg.Providers.LLMFallback, ps.Fallback != nil))
	printRow(w, "Contract", cfg.Analysis.Contract)
	printRow(w, "History window", fmt.Sprintf("%d turns", cfg.Analysis.Window))
	printRow(w, "Transcripts", cfg.Transcripts.File)
	if cfg.Transcripts.PostgresDSN != "" {
		printRow(w, "Postgres", "enabled")
	}
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerValue(e config.ProviderEntry, active bool) string {
	switch {
	case !e.Configured():
		return "(not configured)"
	case !active:
		return e.Name + " (disabled)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
