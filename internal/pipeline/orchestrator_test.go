package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othentic-ai/ideationd/internal/agent"
	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/notify"
	"github.com/othentic-ai/ideationd/internal/report"
	"github.com/othentic-ai/ideationd/internal/session"
	"github.com/othentic-ai/ideationd/internal/vectorstore"
)

// hashEmbedder produces deterministic unit vectors from text content.
type hashEmbedder struct{}

func (hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	var norm float64
	for i := range vec {
		vec[i] = float32(sum[i]) + 1
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// fakeRunner executes stages from a script: canned output (or error)
// per stage name, persisting records the way the real runner does so
// visibility waits and prompt assembly keep working.
type fakeRunner struct {
	mu      sync.Mutex
	store   *memory.Store
	outputs map[string]string
	fail    map[string]error
	calls   []string
}

func newFakeRunner(store *memory.Store) *fakeRunner {
	return &fakeRunner{
		store:   store,
		outputs: map[string]string{},
		fail:    map[string]error{},
	}
}

func (f *fakeRunner) Run(ctx context.Context, spec agent.Spec, sess *session.Session, rec *session.PhaseRecord) error {
	f.mu.Lock()
	f.calls = append(f.calls, spec.Name)
	f.mu.Unlock()

	_ = rec.MarkRunning()
	if err := f.fail[spec.Name]; err != nil {
		_ = rec.MarkFailed(err)
		return err
	}

	output, ok := f.outputs[spec.Name]
	if !ok {
		output = "findings from " + spec.Name
	}
	_, err := f.store.Write(ctx, memory.Record{
		Owner:     memory.OwnerScope(spec.Name, sess.SessionID),
		SessionID: sess.SessionID,
		Type:      spec.RecordType,
		Content:   output,
	})
	if err != nil {
		_ = rec.MarkFailed(err)
		return err
	}
	return rec.MarkComplete(output)
}

func (f *fakeRunner) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type spyNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *spyNotifier) Publish(_ context.Context, e notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *spyNotifier) Close() error { return nil }

type fixture struct {
	orch     *Orchestrator
	runner   *fakeRunner
	notifier *spyNotifier
	outDir   string
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	backend, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Collection: "test_records"}, hashEmbedder{}, nil)
	require.NoError(t, err)
	store, err := memory.NewStore(backend, memory.Config{
		MaxRetries:        2,
		VisibilityTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	outDir := t.TempDir()
	reporter, err := report.NewCompiler(outDir)
	require.NoError(t, err)

	runner := newFakeRunner(store)
	notifier := &spyNotifier{}

	orch, err := NewOrchestrator(runner, store, reporter, notifier, nil, config)
	require.NoError(t, err)
	return &fixture{orch: orch, runner: runner, notifier: notifier, outDir: outDir}
}

func problemScorecard(v float64) string {
	return fmt.Sprintf(`{"severity": %[1]v, "market_size": %[1]v, "willingness_to_pay": %[1]v, "solution_fit": %[1]v}`, v)
}

func solutionScorecard(v float64) string {
	return fmt.Sprintf(`{"technical_viability": %[1]v, "competitive_advantage": %[1]v, "resource_requirements": %[1]v, "time_to_market": %[1]v}`, v)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, nil, nil, nil, Config{})
	assert.Error(t, err)

	fx := newFixture(t, Config{})
	_, err = NewOrchestrator(fx.runner, nil, nil, nil, nil, Config{})
	assert.Error(t, err)

	_, err = fx.orch.Evaluate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyStatement)
}

func TestNewOrchestrator_RejectsUnknownPolicy(t *testing.T) {
	fx := newFixture(t, Config{})
	_, err := NewOrchestrator(fx.runner, nil, nil, nil, nil, Config{Policy: "sometimes"})
	assert.Error(t, err)
}

func TestEvaluate_PassingSession(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(8)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(7)

	sess, err := fx.orch.Evaluate(context.Background(), "Legal research is slow and expensive for small firms")
	require.NoError(t, err)

	assert.Equal(t, session.StatusComplete, sess.Status)
	assert.Equal(t, "PASS", sess.Verdict)
	assert.False(t, sess.Eliminated)
	require.NotNil(t, sess.Scores.Problem)
	require.NotNil(t, sess.Scores.Solution)
	require.NotNil(t, sess.Scores.Combined)
	assert.InDelta(t, 8.0, *sess.Scores.Problem, 1e-9)
	assert.InDelta(t, 7.0, *sess.Scores.Solution, 1e-9)
	assert.InDelta(t, 7.6, *sess.Scores.Combined, 1e-9)

	// Every stage ran, both phases included.
	for _, name := range []string{
		agent.StageResearcher, agent.StageMarketAnalyst, agent.StageCustomerDiscovery,
		agent.StageCompetitorAnalyst, agent.StageResourceScout, agent.StageHypothesisArchitect,
		agent.StageProblemScorer, agent.StageSolutionScorer, agent.StageReportGenerator,
	} {
		assert.True(t, fx.runner.called(name), "stage %s did not run", name)
	}

	entries, err := os.ReadDir(fx.outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), sess.SessionID)
	assert.Equal(t, ".md", filepath.Ext(entries[0].Name()))

	require.Len(t, fx.notifier.events, 1)
	event := fx.notifier.events[0]
	assert.Equal(t, sess.SessionID, event.SessionID)
	assert.Equal(t, "complete", event.Status)
	assert.Equal(t, "PASS", event.Verdict)
	assert.NotEmpty(t, event.ReportPath)
}

func TestEvaluate_EarlyElimination(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0, Policy: PolicyEarly})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(3)

	sess, err := fx.orch.Evaluate(context.Background(), "People sometimes mildly dislike the weather")
	require.NoError(t, err)

	assert.Equal(t, session.StatusComplete, sess.Status)
	assert.True(t, sess.Eliminated)
	require.NotNil(t, sess.EliminationPhase)
	assert.Equal(t, "problem", *sess.EliminationPhase)
	assert.Equal(t, "FAIL", sess.Verdict)
	assert.Nil(t, sess.Scores.Solution)

	// Solution phase never dispatched.
	assert.False(t, fx.runner.called(agent.StageCompetitorAnalyst))
	assert.False(t, fx.runner.called(agent.StageSolutionScorer))
	// Report still produced.
	assert.True(t, fx.runner.called(agent.StageReportGenerator))
}

func TestEvaluate_FullPolicyRunsSolutionPhase(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0, Policy: PolicyFull})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(3)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(3)

	sess, err := fx.orch.Evaluate(context.Background(), "Spreadsheets are hard to audit")
	require.NoError(t, err)

	assert.True(t, fx.runner.called(agent.StageCompetitorAnalyst))
	assert.True(t, fx.runner.called(agent.StageSolutionScorer))

	assert.Equal(t, session.StatusComplete, sess.Status)
	assert.True(t, sess.Eliminated)
	require.NotNil(t, sess.EliminationPhase)
	assert.Equal(t, "solution", *sess.EliminationPhase)
	assert.Equal(t, "FAIL", sess.Verdict)
}

func TestEvaluate_BorderlineTriggersConfirmation(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(5)
	fx.runner.outputs[agent.StageProblemScorer+"_confirm"] = problemScorecard(6)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(6)

	sess, err := fx.orch.Evaluate(context.Background(), "On-call schedules burn out small teams")
	require.NoError(t, err)

	assert.True(t, fx.runner.called(agent.StageProblemScorer+"_confirm"))
	require.NotNil(t, sess.Scores.Problem)
	assert.InDelta(t, 5.5, *sess.Scores.Problem, 1e-9)
	assert.Equal(t, "PASS", sess.Verdict)
}

func TestEvaluate_ProblemOnly(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 4.0, ProblemOnly: true})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(8)

	sess, err := fx.orch.Evaluate(context.Background(), "Invoices get lost between email and accounting")
	require.NoError(t, err)

	assert.False(t, fx.runner.called(agent.StageCompetitorAnalyst))
	assert.Nil(t, sess.Scores.Solution)
	require.NotNil(t, sess.Scores.Combined)
	assert.InDelta(t, 4.8, *sess.Scores.Combined, 1e-9)
	assert.Equal(t, "PASS", sess.Verdict)
	assert.Equal(t, session.StatusComplete, sess.Status)
}

func TestEvaluate_CriticalStageFailureFailsSession(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.fail[agent.StageResearcher] = errors.New("capability unreachable")

	sess, err := fx.orch.Evaluate(context.Background(), "Nobody can find internal documentation")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionFailed)
	assert.Equal(t, session.StatusFailed, sess.Status)

	// Wave siblings still ran to a terminal state; later phases never
	// started.
	assert.True(t, fx.runner.called(agent.StageMarketAnalyst))
	assert.True(t, fx.runner.called(agent.StageCustomerDiscovery))
	assert.False(t, fx.runner.called(agent.StageProblemScorer))
	assert.False(t, fx.runner.called(agent.StageReportGenerator))

	// Failure outcome is still published.
	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, "failed", fx.notifier.events[0].Status)
}

func TestEvaluate_NonCriticalFailureContinuesDegraded(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.fail[agent.StageMarketAnalyst] = errors.New("capability unreachable")
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(8)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(7)

	sess, err := fx.orch.Evaluate(context.Background(), "Nobody can find internal documentation")
	require.NoError(t, err)

	assert.Equal(t, session.StatusComplete, sess.Status)
	assert.Equal(t, "PASS", sess.Verdict)
	assert.Equal(t, []string{agent.StageMarketAnalyst}, sess.Degraded)

	rec := sess.Phases.Get(agent.StageMarketAnalyst)
	require.NotNil(t, rec)
	assert.Equal(t, session.PhaseFailed, rec.Status)
}

func TestEvaluate_DependentWaitsForDependency(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(8)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(7)

	_, err := fx.orch.Evaluate(context.Background(), "Cloud bills are impossible to attribute")
	require.NoError(t, err)

	// The architect depends on both scouting stages.
	fx.runner.mu.Lock()
	defer fx.runner.mu.Unlock()
	architect := indexOfString(fx.runner.calls, agent.StageHypothesisArchitect)
	competitor := indexOfString(fx.runner.calls, agent.StageCompetitorAnalyst)
	scout := indexOfString(fx.runner.calls, agent.StageResourceScout)
	require.GreaterOrEqual(t, architect, 0)
	assert.Greater(t, architect, competitor)
	assert.Greater(t, architect, scout)
}

func TestEvaluate_ScorecardOutOfRangeFailsSession(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(14)

	sess, err := fx.orch.Evaluate(context.Background(), "Compliance reviews block every release")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionFailed)
	assert.Equal(t, session.StatusFailed, sess.Status)
}

func TestEvaluate_CancellationMarksCancelled(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.fail[agent.StageResearcher] = context.Canceled

	sess, err := fx.orch.Evaluate(context.Background(), "Code review queues stall feature work")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionCancelled)
	assert.Equal(t, session.StatusCancelled, sess.Status)
}

func TestEvaluate_SequentialTopology(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 6.0, Graph: SequentialGraph()})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(8)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(7)

	sess, err := fx.orch.Evaluate(context.Background(), "Procurement approvals take weeks")
	require.NoError(t, err)
	assert.Equal(t, "PASS", sess.Verdict)

	// Every stage ran strictly after its predecessor.
	want := []string{
		agent.StageResearcher, agent.StageMarketAnalyst, agent.StageCustomerDiscovery,
		agent.StageProblemScorer,
		agent.StageCompetitorAnalyst, agent.StageResourceScout, agent.StageHypothesisArchitect,
		agent.StageSolutionScorer,
	}
	fx.runner.mu.Lock()
	defer fx.runner.mu.Unlock()
	prev := -1
	for _, name := range want {
		idx := indexOfString(fx.runner.calls, name)
		require.GreaterOrEqual(t, idx, 0, "stage %s did not run", name)
		assert.Greater(t, idx, prev, "stage %s ran out of order", name)
		prev = idx
	}
}

func TestEvaluate_PhaseOrderIsRecorded(t *testing.T) {
	fx := newFixture(t, Config{Threshold: 5.0})
	fx.runner.outputs[agent.StageProblemScorer] = problemScorecard(8)
	fx.runner.outputs[agent.StageSolutionScorer] = solutionScorecard(7)

	sess, err := fx.orch.Evaluate(context.Background(), "Cloud bills are impossible to attribute to teams")
	require.NoError(t, err)

	names := sess.Phases.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, agent.StageReportGenerator, names[len(names)-1])
	// Scoring comes after the whole research group.
	scorerIdx := indexOfString(names, agent.StageProblemScorer)
	researcherIdx := indexOfString(names, agent.StageResearcher)
	require.GreaterOrEqual(t, scorerIdx, 0)
	require.GreaterOrEqual(t, researcherIdx, 0)
	assert.Greater(t, scorerIdx, researcherIdx)

	for _, rec := range sess.Phases.All() {
		assert.Equal(t, session.PhaseComplete, rec.Status, "phase %s", rec.Name)
	}
}

func indexOfString(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}
