package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othentic-ai/ideationd/internal/agent"
)

func researchStage(name, phase string, deps ...string) StageSpec {
	return StageSpec{
		Spec:      agent.Spec{Name: name, RecordType: "research"},
		Phase:     phase,
		DependsOn: deps,
	}
}

func scorerStage(name, phase string, role StageRole) StageSpec {
	return StageSpec{
		Spec:     agent.Spec{Name: name, RecordType: "scorecard"},
		Phase:    phase,
		Role:     role,
		Critical: true,
	}
}

func TestNewGraph_Validation(t *testing.T) {
	tests := []struct {
		name   string
		stages []StageSpec
	}{
		{"empty", nil},
		{"duplicate names", []StageSpec{
			researchStage("a", PhaseProblem),
			researchStage("a", PhaseProblem),
			scorerStage("ps", PhaseProblem, RoleProblemScorer),
		}},
		{"unknown phase", []StageSpec{
			researchStage("a", "limbo"),
			scorerStage("ps", PhaseProblem, RoleProblemScorer),
		}},
		{"unknown dependency", []StageSpec{
			researchStage("a", PhaseProblem, "ghost"),
			scorerStage("ps", PhaseProblem, RoleProblemScorer),
		}},
		{"problem depends on solution", []StageSpec{
			researchStage("a", PhaseProblem, "b"),
			researchStage("b", PhaseSolution),
			scorerStage("ps", PhaseProblem, RoleProblemScorer),
			scorerStage("ss", PhaseSolution, RoleSolutionScorer),
		}},
		{"dependency cycle", []StageSpec{
			researchStage("a", PhaseProblem, "b"),
			researchStage("b", PhaseProblem, "a"),
			scorerStage("ps", PhaseProblem, RoleProblemScorer),
		}},
		{"no problem scorer", []StageSpec{
			researchStage("a", PhaseProblem),
		}},
		{"two problem scorers", []StageSpec{
			scorerStage("ps1", PhaseProblem, RoleProblemScorer),
			scorerStage("ps2", PhaseProblem, RoleProblemScorer),
		}},
		{"non-critical scorer", []StageSpec{
			{Spec: agent.Spec{Name: "ps"}, Phase: PhaseProblem, Role: RoleProblemScorer},
		}},
		{"solution stages without scorer", []StageSpec{
			researchStage("a", PhaseSolution),
			scorerStage("ps", PhaseProblem, RoleProblemScorer),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.stages)
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}
}

func TestNewGraph_TopologicalOrder(t *testing.T) {
	g, err := NewGraph([]StageSpec{
		researchStage("synthesizer", PhaseProblem, "left", "right"),
		researchStage("left", PhaseProblem),
		researchStage("right", PhaseProblem),
		scorerStage("ps", PhaseProblem, RoleProblemScorer),
	})
	require.NoError(t, err)

	stages := g.ResearchStages(PhaseProblem)
	require.Len(t, stages, 3)
	assert.Equal(t, "synthesizer", stages[2].Spec.Name)
}

func TestTwoPhaseGraph(t *testing.T) {
	g := TwoPhaseGraph()

	assert.Len(t, g.ResearchStages(PhaseProblem), 3)
	assert.Len(t, g.ResearchStages(PhaseSolution), 3)
	assert.True(t, g.HasSolutionPhase())

	assert.Equal(t, agent.StageProblemScorer, g.ProblemScorer().Spec.Name)
	ss, ok := g.SolutionScorer()
	require.True(t, ok)
	assert.Equal(t, agent.StageSolutionScorer, ss.Spec.Name)

	// The architect synthesizes, so it comes after the scouts.
	solution := g.ResearchStages(PhaseSolution)
	assert.Equal(t, agent.StageHypothesisArchitect, solution[2].Spec.Name)
	assert.True(t, solution[2].Critical)
	assert.False(t, solution[0].Critical)
}

func TestSequentialGraph(t *testing.T) {
	g := SequentialGraph()

	stages := g.Stages()
	require.Len(t, stages, 8)
	for i, st := range stages {
		assert.True(t, st.Critical, "stage %s", st.Spec.Name)
		if i == 0 {
			assert.Empty(t, st.DependsOn)
			continue
		}
		require.Len(t, st.DependsOn, 1)
		assert.Equal(t, stages[i-1].Spec.Name, st.DependsOn[0])
	}
}
