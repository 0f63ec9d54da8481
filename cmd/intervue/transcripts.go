package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervue/internal/transcript"
)

var transcriptsFlags struct {
	sessionID string
	limit     int
}

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Print recently relayed transcript fragments",
	Long: `Print the most recent transcript fragments of one session from the
PostgreSQL transcript store, oldest first, in the transcript log format.

Requires transcripts.postgres_dsn (or INTERVUE_POSTGRES_DSN).`,
	RunE: runTranscripts,
}

func init() {
	rootCmd.AddCommand(transcriptsCmd)

	transcriptsCmd.Flags().StringVarP(&transcriptsFlags.sessionID, "session", "s", "", "session id (empty: fragments without a session)")
	transcriptsCmd.Flags().IntVarP(&transcriptsFlags.limit, "limit", "n", 20, "number of fragments to print")
}

func runTranscripts(cmd *cobra.Command, _ []string) error {
	if cfg.Transcripts.PostgresDSN == "" {
		return errors.New("transcripts.postgres_dsn is not configured")
	}
	if transcriptsFlags.limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", transcriptsFlags.limit)
	}

	store, err := transcript.NewPostgresSink(cmd.Context(), cfg.Transcripts.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(cmd.Context(), transcriptsFlags.sessionID, transcriptsFlags.limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), e.Line())
	}
	return nil
}
