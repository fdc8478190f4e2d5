package agent

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/session"
	"github.com/othentic-ai/ideationd/internal/vectorstore"
)

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

type mockCapability struct {
	mock.Mock
}

func (m *mockCapability) Invoke(ctx context.Context, req Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	backend, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Collection: "test_records"}, hashEmbedder{}, nil)
	require.NoError(t, err)

	store, err := memory.NewStore(backend, memory.Config{
		MaxRetries:        1,
		VisibilityTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return store
}

func TestRunner_Run_Success(t *testing.T) {
	store := newTestStore(t)
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).Return("the problem is real and painful", nil).Once()

	runner := NewRunner(capability, store, nil, time.Minute)
	sess := session.New("freelancers lose track of unpaid invoices", 5.0)
	spec := ProblemStages()[0]
	rec := sess.Phases.Add(spec.Name)

	require.NoError(t, runner.Run(context.Background(), spec, sess, rec))

	assert.Equal(t, session.PhaseComplete, rec.Status)
	assert.Equal(t, "the problem is real and painful", rec.Output)
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.CompletedAt)

	// Output landed in the context store under the stage's owner scope.
	records, err := store.Query(context.Background(), memory.Filter{
		Owner: memory.OwnerScope(spec.Name, sess.SessionID),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, memory.TypeProblemResearch, records[0].Type)

	capability.AssertExpectations(t)
}

func TestRunner_Run_CapabilityFailure_NoRetry(t *testing.T) {
	store := newTestStore(t)
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).Return("", errors.New("upstream 500"))

	runner := NewRunner(capability, store, nil, time.Minute)
	sess := session.New("statement", 5.0)
	spec := ProblemStages()[0]
	rec := sess.Phases.Add(spec.Name)

	err := runner.Run(context.Background(), spec, sess, rec)
	require.Error(t, err)

	assert.Equal(t, session.PhaseFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "upstream 500")

	// The expensive call is single-shot: exactly one invocation.
	capability.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestRunner_Run_StageTimeout(t *testing.T) {
	store := newTestStore(t)
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// Block until the stage deadline fires.
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded).Once()

	runner := NewRunner(capability, store, nil, 20*time.Millisecond)
	sess := session.New("statement", 5.0)
	spec := ProblemStages()[0]
	rec := sess.Phases.Add(spec.Name)

	err := runner.Run(context.Background(), spec, sess, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityFailed)
	assert.Contains(t, err.Error(), "timed out")

	assert.Equal(t, session.PhaseFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "timed out")
}

func TestRunner_Run_InvalidScorecardOutput(t *testing.T) {
	store := newTestStore(t)
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).Return("I think it scores about a seven.", nil).Once()

	runner := NewRunner(capability, store, nil, time.Minute)
	sess := session.New("statement", 5.0)
	spec := ProblemScoringStage()
	rec := sess.Phases.Add(spec.Name)

	err := runner.Run(context.Background(), spec, sess, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOutput)
	assert.Equal(t, session.PhaseFailed, rec.Status)

	// Invalid output is not recorded.
	records, qerr := store.Query(context.Background(), memory.Filter{SessionID: sess.SessionID})
	require.NoError(t, qerr)
	assert.Empty(t, records)
}

func TestRunner_Run_EmptyOutputRejected(t *testing.T) {
	store := newTestStore(t)
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).Return("   \n", nil).Once()

	runner := NewRunner(capability, store, nil, time.Minute)
	sess := session.New("statement", 5.0)
	spec := ProblemStages()[1]
	rec := sess.Phases.Add(spec.Name)

	err := runner.Run(context.Background(), spec, sess, rec)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestRunner_Run_PromptIncludesPriorRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := session.New("freelancers lose track of unpaid invoices", 5.0)
	_, err := store.Write(ctx, memory.Record{
		Owner:     memory.OwnerScope(StageResearcher, sess.SessionID),
		SessionID: sess.SessionID,
		Type:      memory.TypeProblemResearch,
		Content:   "interviews confirm four hours a week lost",
	})
	require.NoError(t, err)

	var captured Request
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(Request) }).
		Return("synthesis", nil).Once()

	runner := NewRunner(capability, store, nil, time.Minute)
	spec := SolutionStages()[2]
	rec := sess.Phases.Add(spec.Name)

	require.NoError(t, runner.Run(ctx, spec, sess, rec))

	assert.Contains(t, captured.Prompt, "freelancers lose track of unpaid invoices")
	assert.Contains(t, captured.Prompt, "interviews confirm four hours a week lost")
	assert.Contains(t, captured.Prompt, spec.Instruction)
	assert.Equal(t, spec.System, captured.System)
}

func TestRunner_Run_SimilarSessionAdvisory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A prior session evaluated the identical statement.
	_, err := store.Write(ctx, memory.Record{
		Owner:     memory.OwnerScope("orchestrator", "old-session"),
		SessionID: "old-session",
		Type:      memory.TypeProblemStatement,
		Content:   "freelancers lose track of unpaid invoices",
	})
	require.NoError(t, err)

	var captured Request
	capability := new(mockCapability)
	capability.On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(Request) }).
		Return("findings", nil).Once()

	runner := NewRunner(capability, store, nil, time.Minute)
	sess := session.New("freelancers lose track of unpaid invoices", 5.0)
	spec := ProblemStages()[0]
	rec := sess.Phases.Add(spec.Name)

	require.NoError(t, runner.Run(ctx, spec, sess, rec))
	assert.Contains(t, captured.Prompt, "Related past evaluations")
}

func TestStageCatalog(t *testing.T) {
	assert.Len(t, ProblemStages(), 3)
	assert.Len(t, SolutionStages(), 3)

	// Phase 1 stages are mutually independent.
	for _, spec := range ProblemStages() {
		assert.False(t, spec.UsesPriorRecords, spec.Name)
	}
	for _, spec := range SolutionStages() {
		assert.True(t, spec.UsesPriorRecords, spec.Name)
	}

	report := ReportStage(true)
	assert.Contains(t, report.Instruction, "alternative directions")
	assert.NotContains(t, ReportStage(false).Instruction, "alternative directions")
}
