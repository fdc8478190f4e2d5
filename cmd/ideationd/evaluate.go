package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/othentic-ai/ideationd/internal/agent"
	"github.com/othentic-ai/ideationd/internal/config"
	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/notify"
	"github.com/othentic-ai/ideationd/internal/pipeline"
	"github.com/othentic-ai/ideationd/internal/report"
	"github.com/othentic-ai/ideationd/internal/session"
	"github.com/othentic-ai/ideationd/internal/telemetry"
)

var (
	flagThreshold   float64
	flagOutput      string
	flagPolicy      string
	flagQuiet       bool
	flagProblemOnly bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [statement]...",
	Short: "Run a full evaluation session per problem statement",
	Long: `Run each problem statement through the full evaluation pipeline
and write a markdown report artifact per session.

Examples:
  # Evaluate with defaults
  ideationd evaluate "Legal research is slow and expensive for small firms"

  # Raise the pass bar and write reports elsewhere
  ideationd evaluate -t 7 -o ./out "Spreadsheets are hard to audit"

  # Score the problem only, skipping the solution phase
  ideationd evaluate -p "On-call schedules burn out small teams"

The command exits non-zero when any session fails or is cancelled; an
eliminated or FAIL verdict still exits zero with the outcome printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().Float64VarP(&flagThreshold, "threshold", "t", 0, "pass threshold for the combined score (overrides config)")
	evaluateCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "report output directory (overrides config)")
	evaluateCmd.Flags().StringVar(&flagPolicy, "policy", "", "elimination policy: early or full (overrides config)")
	evaluateCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	evaluateCmd.Flags().BoolVarP(&flagProblemOnly, "problem-only", "p", false, "skip the solution phase")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Pipeline.Threshold = flagThreshold
	}
	if flagOutput != "" {
		cfg.Report.OutputDir = flagOutput
	}
	if flagPolicy != "" {
		cfg.Pipeline.Policy = flagPolicy
	}
	if flagProblemOnly {
		cfg.Pipeline.ProblemOnly = true
	}
	if flagQuiet {
		cfg.Logging.Level = "error"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		logger.Underlying().Warn("tracing disabled: " + err.Error())
	} else {
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				logger.Underlying().Warn("trace flush failed: " + err.Error())
			}
		}()
	}

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	capability, err := agent.NewLLMCapability(cfg.Capability)
	if err != nil {
		return fmt.Errorf("initializing capability: %w", err)
	}
	runner := agent.NewRunner(capability, store, logger, time.Duration(cfg.Pipeline.StageTimeout))

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notify.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.SubjectPrefix, logger.Underlying().Named("notify"))
		if err != nil {
			logger.Underlying().Warn("notifications disabled: " + err.Error())
		} else {
			notifier = n
		}
	}
	defer notifier.Close()

	reporter, err := report.NewCompiler(cfg.Report.OutputDir)
	if err != nil {
		return err
	}

	graph := pipeline.TwoPhaseGraph()
	if cfg.Pipeline.Topology == "sequential" {
		graph = pipeline.SequentialGraph()
	}

	orch, err := pipeline.NewOrchestrator(runner, store, reporter, notifier, logger, pipeline.Config{
		Threshold:      cfg.Pipeline.Threshold,
		EliminationBar: cfg.Pipeline.EliminationBar,
		Policy:         cfg.Pipeline.Policy,
		ProblemOnly:    cfg.Pipeline.ProblemOnly,
		Graph:          graph,
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, statement := range args {
		sess, err := orch.Evaluate(ctx, statement)
		if sess != nil {
			printSummary(cmd.OutOrStdout(), sess)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
	return firstErr
}

func printSummary(w io.Writer, sess *session.Session) {
	fmt.Fprintf(w, "\nSession:  %s\n", sess.SessionID)
	fmt.Fprintf(w, "Status:   %s\n", sess.Status)
	if sess.Verdict != "" {
		fmt.Fprintf(w, "Verdict:  %s\n", sess.Verdict)
	}
	if sess.Eliminated && sess.EliminationPhase != nil {
		fmt.Fprintf(w, "Eliminated at: %s phase\n", *sess.EliminationPhase)
	}
	fmt.Fprintf(w, "Problem:  %s\n", summaryScore(sess.Scores.Problem))
	fmt.Fprintf(w, "Solution: %s\n", summaryScore(sess.Scores.Solution))
	fmt.Fprintf(w, "Combined: %s\n", summaryScore(sess.Scores.Combined))
}

func summaryScore(score *float64) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *score)
}
