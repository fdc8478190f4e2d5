package pipeline

import (
	"errors"
	"fmt"

	"github.com/othentic-ai/ideationd/internal/agent"
)

// ErrInvalidGraph indicates a stage graph that cannot be executed:
// duplicate or missing names, unresolvable or cyclic dependencies, or
// a phase without its scorer.
var ErrInvalidGraph = errors.New("invalid stage graph")

// Pipeline phases. Problem stages never depend on solution stages;
// the reverse is allowed.
const (
	PhaseProblem  = "problem"
	PhaseSolution = "solution"
)

// StageRole distinguishes research stages from the scoring stages the
// orchestrator branches on.
type StageRole string

const (
	RoleResearch       StageRole = "research"
	RoleProblemScorer  StageRole = "problem_scorer"
	RoleSolutionScorer StageRole = "solution_scorer"
)

// StageSpec is one node of the pipeline stage graph. Deployments ship
// different topologies as data; the orchestrator executes whatever
// graph it is given.
type StageSpec struct {
	Spec  agent.Spec
	Phase string
	Role  StageRole

	// DependsOn lists stages that must reach a terminal phase state
	// before this one is dispatched. A failed non-critical dependency
	// does not block; the stage runs with whatever records exist.
	DependsOn []string

	// Critical stages abort the session on failure. Non-critical
	// failures are recorded on the session and the pipeline continues
	// degraded.
	Critical bool
}

// Graph is a validated, executable stage topology.
type Graph struct {
	stages []StageSpec
}

// NewGraph validates a stage topology. Stages keep their given order
// except where dependencies force otherwise.
func NewGraph(stages []StageSpec) (*Graph, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidGraph)
	}

	byName := make(map[string]StageSpec, len(stages))
	for i := range stages {
		st := &stages[i]
		if st.Spec.Name == "" {
			return nil, fmt.Errorf("%w: stage with empty name", ErrInvalidGraph)
		}
		if _, dup := byName[st.Spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidGraph, st.Spec.Name)
		}
		if st.Phase != PhaseProblem && st.Phase != PhaseSolution {
			return nil, fmt.Errorf("%w: stage %q has unknown phase %q", ErrInvalidGraph, st.Spec.Name, st.Phase)
		}
		if st.Role == "" {
			st.Role = RoleResearch
		}
		byName[st.Spec.Name] = *st
	}

	var problemScorers, solutionScorers, solutionResearch int
	for _, st := range stages {
		for _, dep := range st.DependsOn {
			target, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("%w: stage %q depends on unknown stage %q", ErrInvalidGraph, st.Spec.Name, dep)
			}
			if st.Phase == PhaseProblem && target.Phase == PhaseSolution {
				return nil, fmt.Errorf("%w: problem stage %q depends on solution stage %q", ErrInvalidGraph, st.Spec.Name, dep)
			}
		}
		switch st.Role {
		case RoleResearch:
			if st.Phase == PhaseSolution {
				solutionResearch++
			}
		case RoleProblemScorer:
			problemScorers++
			if !st.Critical {
				return nil, fmt.Errorf("%w: scorer %q must be critical", ErrInvalidGraph, st.Spec.Name)
			}
		case RoleSolutionScorer:
			solutionScorers++
			if !st.Critical {
				return nil, fmt.Errorf("%w: scorer %q must be critical", ErrInvalidGraph, st.Spec.Name)
			}
		default:
			return nil, fmt.Errorf("%w: stage %q has unknown role %q", ErrInvalidGraph, st.Spec.Name, st.Role)
		}
	}
	if problemScorers != 1 {
		return nil, fmt.Errorf("%w: need exactly one problem scorer, have %d", ErrInvalidGraph, problemScorers)
	}
	if solutionScorers > 1 {
		return nil, fmt.Errorf("%w: at most one solution scorer, have %d", ErrInvalidGraph, solutionScorers)
	}
	if solutionResearch > 0 && solutionScorers == 0 {
		return nil, fmt.Errorf("%w: solution stages present but no solution scorer", ErrInvalidGraph)
	}

	ordered, err := topoSort(stages)
	if err != nil {
		return nil, err
	}
	return &Graph{stages: ordered}, nil
}

// topoSort orders stages so every dependency precedes its dependents,
// preserving the given order among unconstrained stages. A leftover
// stage means a dependency cycle.
func topoSort(stages []StageSpec) ([]StageSpec, error) {
	placed := make(map[string]bool, len(stages))
	ordered := make([]StageSpec, 0, len(stages))
	remaining := stages

	for len(remaining) > 0 {
		var next []StageSpec
		progressed := false
		for _, st := range remaining {
			ready := true
			for _, dep := range st.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, st)
				placed[st.Spec.Name] = true
				progressed = true
			} else {
				next = append(next, st)
			}
		}
		if !progressed {
			return nil, fmt.Errorf("%w: dependency cycle involving %q", ErrInvalidGraph, next[0].Spec.Name)
		}
		remaining = next
	}
	return ordered, nil
}

// ResearchStages returns the phase's research stages in dependency
// order.
func (g *Graph) ResearchStages(phase string) []StageSpec {
	var out []StageSpec
	for _, st := range g.stages {
		if st.Phase == phase && st.Role == RoleResearch {
			out = append(out, st)
		}
	}
	return out
}

// ProblemScorer returns the problem scoring stage.
func (g *Graph) ProblemScorer() StageSpec {
	for _, st := range g.stages {
		if st.Role == RoleProblemScorer {
			return st
		}
	}
	// NewGraph guarantees presence.
	panic("pipeline: graph has no problem scorer")
}

// SolutionScorer returns the solution scoring stage, if the topology
// has a solution phase.
func (g *Graph) SolutionScorer() (StageSpec, bool) {
	for _, st := range g.stages {
		if st.Role == RoleSolutionScorer {
			return st, true
		}
	}
	return StageSpec{}, false
}

// HasSolutionPhase reports whether the topology runs solution stages.
func (g *Graph) HasSolutionPhase() bool {
	return len(g.ResearchStages(PhaseSolution)) > 0
}

// Stages returns all stages in dependency order.
func (g *Graph) Stages() []StageSpec {
	out := make([]StageSpec, len(g.stages))
	copy(out, g.stages)
	return out
}

func mustGraph(stages []StageSpec) *Graph {
	g, err := NewGraph(stages)
	if err != nil {
		panic(err)
	}
	return g
}

// TwoPhaseGraph is the default topology: the three problem research
// stages fan out concurrently, as do the competitive and resource
// scouting stages; the hypothesis architect synthesizes on top of
// both. Only the researcher, the architect, and the scorers abort the
// session on failure; the enrichment stages degrade.
func TwoPhaseGraph() *Graph {
	problem := agent.ProblemStages()
	solution := agent.SolutionStages()
	stages := []StageSpec{
		{Spec: problem[0], Phase: PhaseProblem, Critical: true},
		{Spec: problem[1], Phase: PhaseProblem},
		{Spec: problem[2], Phase: PhaseProblem},
		{Spec: agent.ProblemScoringStage(), Phase: PhaseProblem, Role: RoleProblemScorer, Critical: true,
			DependsOn: []string{problem[0].Name, problem[1].Name, problem[2].Name}},
		{Spec: solution[0], Phase: PhaseSolution},
		{Spec: solution[1], Phase: PhaseSolution},
		{Spec: solution[2], Phase: PhaseSolution, Critical: true,
			DependsOn: []string{solution[0].Name, solution[1].Name}},
		{Spec: agent.SolutionScoringStage(), Phase: PhaseSolution, Role: RoleSolutionScorer, Critical: true,
			DependsOn: []string{solution[2].Name}},
	}
	return mustGraph(stages)
}

// SequentialGraph is the conservative single-file topology some
// deployments run: every stage depends on its predecessor and every
// stage is critical. Usually paired with a higher elimination bar.
func SequentialGraph() *Graph {
	problem := agent.ProblemStages()
	solution := agent.SolutionStages()

	var stages []StageSpec
	prev := ""
	add := func(spec agent.Spec, phase string, role StageRole) {
		st := StageSpec{Spec: spec, Phase: phase, Role: role, Critical: true}
		if prev != "" {
			st.DependsOn = []string{prev}
		}
		stages = append(stages, st)
		prev = spec.Name
	}
	for _, spec := range problem {
		add(spec, PhaseProblem, RoleResearch)
	}
	add(agent.ProblemScoringStage(), PhaseProblem, RoleProblemScorer)
	for _, spec := range solution {
		add(spec, PhaseSolution, RoleResearch)
	}
	add(agent.SolutionScoringStage(), PhaseSolution, RoleSolutionScorer)
	return mustGraph(stages)
}
