package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/othentic-ai/ideationd/internal/config"
	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List past evaluation sessions",
	Long: `List past evaluation sessions from the session registry, most
recent first. Each session is shown at its latest recorded state.`,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, _ []string) error {
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

	records, err := store.Query(cmd.Context(), memory.Filter{Owner: memory.RegistryOwner})
	if err != nil {
		return err
	}

	sessions := latestSessions(records, logger)
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-36s  %-11s  %-7s  %-8s  %s\n", "SESSION", "STATUS", "VERDICT", "COMBINED", "STATEMENT")
	for _, s := range sessions {
		verdict := s.Verdict
		if verdict == "" {
			verdict = "-"
		}
		fmt.Fprintf(w, "%-36s  %-11s  %-7s  %-8s  %s\n",
			s.SessionID, s.Status, verdict, summaryScore(s.Scores.Combined), truncate(s.InputStatement, 60))
	}
	return nil
}

// latestSessions decodes registry snapshots, keeping only the most
// recent snapshot per session, most recently updated first.
func latestSessions(records []memory.Record, logger *logging.Logger) []*session.Session {
	latest := map[string]*session.Session{}
	for _, rec := range records {
		var sess session.Session
		if err := json.Unmarshal([]byte(rec.Content), &sess); err != nil {
			if logger != nil {
				logger.Underlying().Warn("skipping unreadable session snapshot: " + err.Error())
			}
			continue
		}
		if prev, ok := latest[sess.SessionID]; ok && !sess.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		latest[sess.SessionID] = &sess
	}

	sessions := make([]*session.Session, 0, len(latest))
	for _, s := range latest {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions
}
