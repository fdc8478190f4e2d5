package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/othentic-ai/ideationd/internal/config"
	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/memory"
)

var flagSimilarLimit int

var similarCmd = &cobra.Command{
	Use:   "similar [statement]",
	Short: "Find past sessions with similar problem statements",
	Long: `Search past sessions' problem statements by semantic similarity.

Examples:
  ideationd similar "Legal research is slow for small firms"
  ideationd similar -k 10 "Invoices get lost between email and accounting"`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	similarCmd.Flags().IntVarP(&flagSimilarLimit, "limit", "k", 5, "maximum number of results")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Logging.Level = "error"

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := store.SearchSimilar(cmd.Context(), args[0], memory.TypeProblemStatement, flagSimilarLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no past sessions found")
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-10s  %-36s  %s\n", "SIMILARITY", "SESSION", "STATEMENT")
	for _, r := range results {
		sessionID, _ := r.Metadata[memory.MetaSessionID].(string)
		fmt.Fprintf(w, "%-10.3f  %-36s  %s\n", r.Score, sessionID, truncate(r.Content, 70))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
