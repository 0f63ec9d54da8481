package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/intervue/internal/config"
)

var (
	// Global flags
	cfgFile string
	envFile string

	// cfg is loaded by the root command before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "intervue",
	Short: "intervue - live technical-interview assistant",
	Long: `intervue critiques a candidate's spoken answers during a technical interview.

Transcribed answers are sent with recent conversation context to an LLM, whose
reply is repaired, split into sections and rendered for the interviewer. A
WebSocket relay records transcript fragments as they arrive.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadRootConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "intervue:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
}

// loadRootConfig loads the dotenv file, then the config, and installs the
// default logger.
func loadRootConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Debug("configuration loaded", "config", cfgFile, "command", cmd.Name())
	return nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
