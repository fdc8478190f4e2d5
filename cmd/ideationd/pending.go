package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/othentic-ai/ideationd/internal/config"
	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/session"
)

var addCmd = &cobra.Command{
	Use:   "add [statement]",
	Short: "Queue a problem statement for later evaluation",
	Long: `Queue a problem statement without evaluating it. Queued statements
show up in 'ideationd pending' until a session evaluates them.

Examples:
  ideationd add "Field technicians re-enter job notes into three systems"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued statements not yet evaluated",
	RunE:  runPending,
}

func runAdd(cmd *cobra.Command, args []string) error {
	statement := strings.TrimSpace(args[0])
	if statement == "" {
		return errors.New("statement must not be empty")
	}

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

	receipt, err := store.Write(cmd.Context(), memory.Record{
		Owner:   memory.PendingOwner,
		Type:    memory.TypePendingIdea,
		Content: statement,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued %s: %s\n", receipt.ID, truncate(statement, 70))
	return nil
}

func runPending(cmd *cobra.Command, _ []string) error {
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

	queued, err := store.Query(cmd.Context(), memory.Filter{Owner: memory.PendingOwner})
	if err != nil {
		return err
	}

	registry, err := store.Query(cmd.Context(), memory.Filter{Owner: memory.RegistryOwner})
	if err != nil {
		return err
	}
	sessions := latestSessions(registry, logger)

	remaining := pendingStatements(queued, sessions)
	if len(remaining) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no pending statements")
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-20s  %s\n", "QUEUED", "STATEMENT")
	for _, rec := range remaining {
		fmt.Fprintf(w, "%-20s  %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), truncate(rec.Content, 70))
	}
	return nil
}

// pendingStatements drops queued statements a session has already
// evaluated. The store is append-only, so evaluation does not remove
// the queue record; the statement text is the join key.
func pendingStatements(queued []memory.Record, sessions []*session.Session) []memory.Record {
	evaluated := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		evaluated[strings.TrimSpace(s.InputStatement)] = true
	}

	var out []memory.Record
	for _, rec := range queued {
		if evaluated[strings.TrimSpace(rec.Content)] {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
