package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervue/internal/analysis"
	"github.com/MrWong99/intervue/internal/config"
	"github.com/MrWong99/intervue/internal/resilience"
)

var analyzeFlags struct {
	jsonOutput bool
	html       bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [answer...]",
	Short: "Analyze one answer and print the critique",
	Long: `Send a single answer to the configured model and print the structured
critique. The answer is taken from the arguments, or from standard input when
no arguments are given.

Examples:
  intervue analyze "Channels are typed conduits between goroutines."
  cat answer.txt | intervue analyze --json`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolVar(&analyzeFlags.jsonOutput, "json", false, "print the full result as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeFlags.html, "html", false, "print the rendered HTML instead of markdown")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read answer: %w", err)
		}
		text = string(b)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	contract, err := analysis.ContractByName(cfg.Analysis.Contract)
	if err != nil {
		return err
	}
	opts := []analysis.Option{
		analysis.WithContract(contract),
		analysis.WithWindow(cfg.Analysis.Window),
		analysis.WithTimeout(cfg.Analysis.Timeout),
	}
	if providers.LLM != nil {
		model := resilience.NewLLMFallback(providers.LLM, providers.LLMName, resilience.FallbackConfig{})
		if providers.Fallback != nil {
			model.AddFallback(providers.FallbackName, providers.Fallback)
		}
		opts = append(opts, analysis.WithProvider(model, model.Name()))
	}

	res, err := analysis.NewSession("cli", opts...).Analyze(cmd.Context(), text)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res)
}

func printResult(w io.Writer, res *analysis.Result) error {
	switch {
	case analyzeFlags.jsonOutput:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case analyzeFlags.html:
		_, err := fmt.Fprintln(w, res.AnalysisHTML)
		return err
	}
	if res.Fallback {
		fmt.Fprintf(w, "note: %s\n\n", res.Error)
	}
	_, err := fmt.Fprintln(w, res.Analysis)
	return err
}
