// Package pipeline drives an evaluation session end to end: problem
// research, problem scoring, the elimination decision, solution
// research and scoring, and finally report generation. The
// orchestrator owns the session state machine; stage execution is
// delegated to the agent runner and all stage outputs land in the
// context store before the next phase reads them.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/othentic-ai/ideationd/internal/agent"
	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/notify"
	"github.com/othentic-ai/ideationd/internal/report"
	"github.com/othentic-ai/ideationd/internal/scoring"
	"github.com/othentic-ai/ideationd/internal/session"
)

var tracer = otel.Tracer("ideationd.pipeline")

var (
	// ErrEmptyStatement is returned when Evaluate is given a blank
	// problem statement.
	ErrEmptyStatement = errors.New("empty problem statement")

	// ErrSessionFailed wraps any stage or infrastructure error that
	// ends a session in the failed status.
	ErrSessionFailed = errors.New("session failed")

	// ErrSessionCancelled is returned when the caller's context is
	// cancelled mid-evaluation.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrMissingScore indicates a decision point reached without the
	// score it branches on. Fatal to the session.
	ErrMissingScore = errors.New("missing score at decision point")
)

// Elimination policies. Early stops spending on a problem the moment
// it scores under the bar; full runs the solution phase anyway and
// only branches at reporting time.
const (
	PolicyEarly = "early"
	PolicyFull  = "full"
)

// rescoreBand is the borderline window around the elimination bar. A
// problem score within the band triggers one confirmation scoring
// pass, and the two scores are averaged.
const rescoreBand = 0.5

// duplicateFloor is the similarity above which a past session's
// statement is surfaced as a likely duplicate. Advisory only.
const duplicateFloor = 0.90

// StageRunner executes one pipeline stage against the external
// capability and persists its output. Satisfied by *agent.Runner.
type StageRunner interface {
	Run(ctx context.Context, spec agent.Spec, sess *session.Session, rec *session.PhaseRecord) error
}

// Config holds the orchestrator's decision parameters.
type Config struct {
	// Threshold is the pass bar for the combined score.
	Threshold float64

	// EliminationBar is the Phase 1 bar. Zero means "use Threshold".
	EliminationBar float64

	// Policy is PolicyEarly or PolicyFull.
	Policy string

	// ProblemOnly skips the solution phase unconditionally.
	ProblemOnly bool

	// Graph is the stage topology. Nil means TwoPhaseGraph.
	Graph *Graph
}

func (c *Config) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 5.0
	}
	if c.EliminationBar == 0 {
		c.EliminationBar = c.Threshold
	}
	if c.Policy == "" {
		c.Policy = PolicyEarly
	}
	if c.Graph == nil {
		c.Graph = TwoPhaseGraph()
	}
}

// Orchestrator runs evaluation sessions.
type Orchestrator struct {
	runner   StageRunner
	store    *memory.Store
	reporter *report.Compiler
	notifier notify.Notifier
	logger   *logging.Logger
	config   Config
}

// NewOrchestrator wires an orchestrator. A nil notifier degrades to a
// no-op; everything else is required.
func NewOrchestrator(runner StageRunner, store *memory.Store, reporter *report.Compiler, notifier notify.Notifier, logger *logging.Logger, config Config) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("pipeline: runner is required")
	}
	if store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if reporter == nil {
		return nil, errors.New("pipeline: reporter is required")
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.applyDefaults()
	if config.Policy != PolicyEarly && config.Policy != PolicyFull {
		return nil, fmt.Errorf("pipeline: unknown policy %q", config.Policy)
	}
	return &Orchestrator{
		runner:   runner,
		store:    store,
		reporter: reporter,
		notifier: notifier,
		logger:   logger.Named("pipeline"),
		config:   config,
	}, nil
}

// Evaluate runs a full session for the given problem statement and
// returns the terminal session document. The session is returned even
// on error so callers can inspect how far it got.
func (o *Orchestrator) Evaluate(ctx context.Context, statement string) (*session.Session, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, ErrEmptyStatement
	}

	sess := session.New(statement, o.config.Threshold)
	ctx = logging.WithSessionID(ctx, sess.SessionID)

	ctx, span := tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.SessionID))

	start := time.Now()
	defer func() {
		EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	o.logger.Info(ctx, "session started",
		zap.String("statement", statement),
		zap.Float64("threshold", o.config.Threshold),
		zap.String("policy", o.config.Policy))

	o.warnIfDuplicate(ctx, sess)
	if err := o.recordStatement(ctx, sess); err != nil {
		return o.failSession(ctx, sess, err)
	}
	o.persistSnapshot(ctx, sess)

	if err := sess.Transition(session.StatusInProgress); err != nil {
		return o.failSession(ctx, sess, err)
	}

	// Phase 1: problem research.
	if err := o.runPhase(ctx, sess, PhaseProblem); err != nil {
		return o.failSession(ctx, sess, err)
	}
	if err := o.awaitVisibility(ctx, sess, PhaseProblem); err != nil {
		return o.failSession(ctx, sess, err)
	}

	problemScore, err := o.scoreProblem(ctx, sess)
	if err != nil {
		return o.failSession(ctx, sess, err)
	}
	sess.SetProblemScore(problemScore)
	span.SetAttributes(attribute.Float64("score.problem", problemScore))

	bar := o.config.EliminationBar
	lowProblem := problemScore < bar

	switch {
	case lowProblem && o.config.Policy == PolicyEarly:
		o.logger.Info(ctx, "problem eliminated",
			zap.Float64("score", problemScore),
			zap.Float64("bar", bar))
		if err := sess.Eliminate("problem"); err != nil {
			return o.failSession(ctx, sess, err)
		}
		EliminationsTotal.Inc()

	case o.config.ProblemOnly || !o.config.Graph.HasSolutionPhase():
		o.logger.Info(ctx, "skipping solution phase", zap.Bool("problem_only", true))

	default:
		if lowProblem {
			o.logger.Warn(ctx, "continuing despite low problem score",
				zap.Float64("score", problemScore),
				zap.Float64("bar", bar))
		}
		if err := o.runPhase(ctx, sess, PhaseSolution); err != nil {
			return o.failSession(ctx, sess, err)
		}
		if err := o.awaitVisibility(ctx, sess, PhaseSolution); err != nil {
			return o.failSession(ctx, sess, err)
		}
		scorer, ok := o.config.Graph.SolutionScorer()
		if !ok {
			return o.failSession(ctx, sess, fmt.Errorf("%w: topology has no solution scorer", ErrMissingScore))
		}
		solutionScore, err := o.runScoringStage(ctx, sess, scorer.Spec, solutionScoreFrom)
		if err != nil {
			return o.failSession(ctx, sess, err)
		}
		sess.SetSolutionScore(solutionScore)
		span.SetAttributes(attribute.Float64("score.solution", solutionScore))
	}

	if err := o.decide(ctx, sess); err != nil {
		return o.failSession(ctx, sess, err)
	}
	if err := o.applyVerdict(ctx, sess); err != nil {
		return o.failSession(ctx, sess, err)
	}

	reportPath, err := o.compileReport(ctx, sess)
	if err != nil {
		return o.failSession(ctx, sess, err)
	}

	if err := sess.Transition(session.StatusComplete); err != nil {
		return o.failSession(ctx, sess, err)
	}

	SessionsTotal.WithLabelValues(string(sess.Status)).Inc()
	o.persistSnapshot(ctx, sess)
	o.notifyOutcome(ctx, sess, reportPath)

	o.logger.Info(ctx, "session complete",
		zap.String("verdict", sess.Verdict),
		zap.Bool("eliminated", sess.Eliminated),
		zap.String("report", reportPath),
		zap.Duration("elapsed", time.Since(start)))
	return sess, nil
}

// recordStatement writes the input statement into the session's
// context store scope so every stage can retrieve it later.
func (o *Orchestrator) recordStatement(ctx context.Context, sess *session.Session) error {
	_, err := o.store.Write(ctx, memory.Record{
		Owner:     memory.OwnerScope("orchestrator", sess.SessionID),
		SessionID: sess.SessionID,
		Type:      memory.TypeProblemStatement,
		Content:   sess.InputStatement,
	})
	if err != nil {
		return fmt.Errorf("recording problem statement: %w", err)
	}
	return nil
}

// warnIfDuplicate surfaces near-identical past statements. Advisory
// only: sessions are never blocked on similarity.
func (o *Orchestrator) warnIfDuplicate(ctx context.Context, sess *session.Session) {
	results, err := o.store.SearchSimilar(ctx, sess.InputStatement, memory.TypeProblemStatement, 3)
	if err != nil {
		o.logger.Debug(ctx, "duplicate check skipped", zap.Error(err))
		return
	}
	for _, r := range results {
		if r.Score < duplicateFloor {
			continue
		}
		o.logger.Warn(ctx, "statement closely matches a past session",
			zap.Any("past_session_id", r.Metadata[memory.MetaSessionID]),
			zap.Float64("similarity", float64(r.Score)))
	}
}

// runPhase executes a phase's research stages in dependency waves: a
// stage dispatches once every stage it depends on is terminal, and
// independent stages of a wave run concurrently. A critical failure
// aborts the phase after its wave settles; a non-critical failure
// marks the session degraded and the pipeline continues without that
// stage's findings.
func (o *Orchestrator) runPhase(ctx context.Context, sess *session.Session, phase string) error {
	stages := o.config.Graph.ResearchStages(phase)
	if len(stages) == 0 {
		return nil
	}

	recs := make(map[string]*session.PhaseRecord, len(stages))
	for _, st := range stages {
		recs[st.Spec.Name] = sess.Phases.Add(st.Spec.Name)
	}

	var mu sync.Mutex
	terminal := make(map[string]bool, len(stages))

	// Dependencies outside this phase's research set (earlier-phase
	// stages, scorers) already ran: phase sequencing and the visibility
	// gate order them, so they count as settled here.
	inPhase := make(map[string]bool, len(stages))
	for _, st := range stages {
		inPhase[st.Spec.Name] = true
	}
	for _, st := range stages {
		for _, dep := range st.DependsOn {
			if !inPhase[dep] {
				terminal[dep] = true
			}
		}
	}

	pending := stages
	for len(pending) > 0 {
		var wave, rest []StageSpec
		for _, st := range pending {
			ready := true
			for _, dep := range st.DependsOn {
				if !terminal[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, st)
			} else {
				rest = append(rest, st)
			}
		}
		if len(wave) == 0 {
			blocked := make([]string, 0, len(rest))
			for _, st := range rest {
				blocked = append(blocked, st.Spec.Name)
			}
			return fmt.Errorf("%w: stages %v blocked on unsatisfiable dependencies", ErrInvalidGraph, blocked)
		}

		var g errgroup.Group
		for _, st := range wave {
			g.Go(func() error {
				err := o.runner.Run(ctx, st.Spec, sess, recs[st.Spec.Name])
				mu.Lock()
				defer mu.Unlock()
				terminal[st.Spec.Name] = true
				if err == nil {
					return nil
				}
				StageFailuresTotal.WithLabelValues(st.Spec.Name).Inc()
				if st.Critical {
					return fmt.Errorf("stage %s: %w", st.Spec.Name, err)
				}
				sess.AddDegraded(st.Spec.Name)
				o.logger.Warn(ctx, "continuing without failed stage",
					zap.String("stage", st.Spec.Name),
					zap.Error(err))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		pending = rest
	}
	return nil
}

// awaitVisibility blocks until each completed stage's record is
// queryable. The store is eventually consistent, so a successful
// write does not guarantee the next phase can read it yet.
func (o *Orchestrator) awaitVisibility(ctx context.Context, sess *session.Session, phase string) error {
	for _, st := range o.config.Graph.ResearchStages(phase) {
		rec := sess.Phases.Get(st.Spec.Name)
		if rec == nil || rec.Status != session.PhaseComplete {
			continue
		}
		_, err := o.store.WaitFor(ctx, memory.Filter{
			Owner: memory.OwnerScope(st.Spec.Name, sess.SessionID),
			Type:  st.Spec.RecordType,
		})
		if err != nil {
			return fmt.Errorf("awaiting %s output: %w", st.Spec.Name, err)
		}
	}
	return nil
}

// scoreProblem runs the problem scoring stage. A score within
// rescoreBand of the elimination bar triggers one confirmation pass
// and the two scores are averaged, so a single noisy scorecard cannot
// decide a borderline session alone.
func (o *Orchestrator) scoreProblem(ctx context.Context, sess *session.Session) (float64, error) {
	spec := o.config.Graph.ProblemScorer().Spec
	score, err := o.runScoringStage(ctx, sess, spec, problemScoreFrom)
	if err != nil {
		return 0, err
	}

	bar := o.config.EliminationBar
	if diff := score - bar; diff >= -rescoreBand && diff <= rescoreBand {
		confirm := spec
		confirm.Name = spec.Name + "_confirm"
		second, err := o.runScoringStage(ctx, sess, confirm, problemScoreFrom)
		if err != nil {
			return 0, err
		}
		averaged := (score + second) / 2
		o.logger.Info(ctx, "borderline score confirmed",
			zap.Float64("first", score),
			zap.Float64("second", second),
			zap.Float64("averaged", averaged))
		score = averaged
	}
	return score, nil
}

// runScoringStage runs a scoring stage and computes its numeric score
// from the scorecard output.
func (o *Orchestrator) runScoringStage(ctx context.Context, sess *session.Session, spec agent.Spec, compute func(string) (float64, error)) (float64, error) {
	rec := sess.Phases.Add(spec.Name)
	if err := o.runner.Run(ctx, spec, sess, rec); err != nil {
		StageFailuresTotal.WithLabelValues(spec.Name).Inc()
		return 0, fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	score, err := compute(rec.Output)
	if err != nil {
		StageFailuresTotal.WithLabelValues(spec.Name).Inc()
		return 0, fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	return score, nil
}

func problemScoreFrom(output string) (float64, error) {
	criteria, err := scoring.ParseProblemCriteria(output)
	if err != nil {
		return 0, err
	}
	return scoring.ProblemScore(criteria)
}

func solutionScoreFrom(output string) (float64, error) {
	criteria, err := scoring.ParseSolutionCriteria(output)
	if err != nil {
		return 0, err
	}
	return scoring.SolutionScore(criteria)
}

// decide records the verdict from the combined score. Eliminated
// sessions keep their elimination status; everything gets a verdict.
func (o *Orchestrator) decide(ctx context.Context, sess *session.Session) error {
	if sess.Scores.Combined == nil {
		return fmt.Errorf("%w: no combined score", ErrMissingScore)
	}
	combined := *sess.Scores.Combined
	verdict := scoring.Decide(combined, o.config.Threshold)
	sess.Verdict = string(verdict)
	o.logger.Info(ctx, "verdict decided",
		zap.Float64("combined", combined),
		zap.Float64("threshold", o.config.Threshold),
		zap.String("verdict", sess.Verdict))
	return nil
}

// applyVerdict moves a non-eliminated session to passed, or
// eliminates it at the phase that sank it.
func (o *Orchestrator) applyVerdict(ctx context.Context, sess *session.Session) error {
	if sess.Status == session.StatusEliminated {
		return nil
	}
	if sess.Verdict == string(scoring.VerdictPass) {
		return sess.Transition(session.StatusPassed)
	}

	phase := "solution"
	if sess.Scores.Solution == nil {
		phase = "problem"
	}
	if err := sess.Eliminate(phase); err != nil {
		return err
	}
	EliminationsTotal.Inc()
	return nil
}

// compileReport runs the report stage and writes the artifact. Runs
// for every outcome, eliminated sessions included.
func (o *Orchestrator) compileReport(ctx context.Context, sess *session.Session) (string, error) {
	suggestPivots := sess.Eliminated || sess.Verdict == string(scoring.VerdictFail)
	spec := agent.ReportStage(suggestPivots)

	rec := sess.Phases.Add(spec.Name)
	if err := o.runner.Run(ctx, spec, sess, rec); err != nil {
		StageFailuresTotal.WithLabelValues(spec.Name).Inc()
		return "", fmt.Errorf("stage %s: %w", spec.Name, err)
	}

	path, err := o.reporter.Write(sess, rec.Output)
	if err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	o.logger.Info(ctx, "report written", zap.String("path", path))
	return path, nil
}

// persistSnapshot writes the session document to the registry scope so
// past sessions can be listed and deduplicated. Best effort: the
// in-memory session stays the source of truth.
func (o *Orchestrator) persistSnapshot(ctx context.Context, sess *session.Session) {
	doc, err := json.Marshal(sess)
	if err != nil {
		o.logger.Warn(ctx, "session snapshot skipped", zap.Error(err))
		return
	}
	_, err = o.store.Write(ctx, memory.Record{
		Owner:     memory.RegistryOwner,
		SessionID: sess.SessionID,
		Type:      memory.TypeSessionState,
		Content:   string(doc),
		Metadata:  map[string]interface{}{"status": string(sess.Status)},
	})
	if err != nil {
		o.logger.Warn(ctx, "session snapshot skipped", zap.Error(err))
	}
}

// notifyOutcome publishes the terminal event. Failures are logged and
// swallowed: notification is never allowed to fail a finished session.
func (o *Orchestrator) notifyOutcome(ctx context.Context, sess *session.Session, reportPath string) {
	event := notify.Event{
		SessionID:      sess.SessionID,
		Status:         string(sess.Status),
		Verdict:        sess.Verdict,
		InputStatement: sess.InputStatement,
		CombinedScore:  sess.Scores.Combined,
		ReportPath:     reportPath,
		OccurredAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := o.notifier.Publish(ctx, event); err != nil {
		o.logger.Warn(ctx, "outcome notification failed", zap.Error(err))
	}
}

// failSession drives the session to failed (or cancelled, when the
// caller's context was cancelled), records it, and wraps the cause.
func (o *Orchestrator) failSession(ctx context.Context, sess *session.Session, cause error) (*session.Session, error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	terminal := session.StatusFailed
	sentinel := ErrSessionFailed
	if errors.Is(cause, context.Canceled) {
		terminal = session.StatusCancelled
		sentinel = ErrSessionCancelled
	}

	if err := sess.Transition(terminal); err != nil {
		o.logger.Warn(ctx, "terminal transition rejected",
			zap.String("from", string(sess.Status)),
			zap.String("to", string(terminal)),
			zap.Error(err))
	}
	SessionsTotal.WithLabelValues(string(sess.Status)).Inc()
	o.persistSnapshot(ctx, sess)
	o.notifyOutcome(ctx, sess, "")

	o.logger.Error(ctx, "session ended abnormally",
		zap.String("status", string(sess.Status)),
		zap.Error(cause))
	return sess, fmt.Errorf("%w: %v", sentinel, cause)
}
