package agent

import (
	"fmt"
	"strings"

	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/scoring"
)

// Stage names. Phase groups and ordering live in the pipeline; these
// are the individual analysis roles.
const (
	StageResearcher          = "researcher"
	StageMarketAnalyst       = "market_analyst"
	StageCustomerDiscovery   = "customer_discovery"
	StageCompetitorAnalyst   = "competitor_analyst"
	StageResourceScout       = "resource_scout"
	StageHypothesisArchitect = "hypothesis_architect"
	StageProblemScorer       = "problem_scorer"
	StageSolutionScorer      = "solution_scorer"
	StageReportGenerator     = "report_generator"
)

// Spec describes one analysis stage: its role prompt, what record type
// it writes, and how its output is validated.
type Spec struct {
	// Name identifies the stage and scopes its store writes.
	Name string

	// RecordType is the context store record type the stage writes.
	RecordType string

	// System is the stage's role instruction.
	System string

	// Instruction is the stage task, appended after the assembled context.
	Instruction string

	// Validate checks the capability output's structure. Nil means any
	// non-empty output is accepted.
	Validate func(output string) error

	// UsesPriorRecords includes earlier session records in the prompt.
	// Phase 1 stages are mutually independent and leave this false.
	UsesPriorRecords bool
}

// ProblemStages returns the problem-validation stage group. Stages in
// this group are mutually independent: none reads another's output, so
// the pipeline runs them concurrently.
func ProblemStages() []Spec {
	return []Spec{
		{
			Name:       StageResearcher,
			RecordType: memory.TypeProblemResearch,
			System:     "You are a research analyst validating whether a problem is real. You ground every claim in observable evidence and say so plainly when evidence is thin.",
			Instruction: "Research this problem statement. Cover: who experiences the problem, how often, what it costs them today, and what workarounds they use. " +
				"Finish with a short list of the strongest evidence for and against the problem being real and painful.",
		},
		{
			Name:       StageMarketAnalyst,
			RecordType: memory.TypeMarketAnalysis,
			System:     "You are a market analyst sizing opportunities. You estimate conservatively and show your reasoning.",
			Instruction: "Estimate the market for solving this problem. Cover: total addressable market, realistic serviceable segment, growth trend, " +
				"and how crowded the space already is. State the assumptions behind each estimate.",
		},
		{
			Name:       StageCustomerDiscovery,
			RecordType: memory.TypeCustomerProfile,
			System:     "You are a customer discovery specialist. You think in concrete personas and buying behavior, not demographics.",
			Instruction: "Profile the people or businesses with this problem. Cover: two or three concrete personas, where they congregate, " +
				"what they currently pay for adjacent tools, and what would make them switch.",
		},
	}
}

// SolutionStages returns the solution-validation stage group. These run
// after Phase 1 and may read its outputs from the context store.
func SolutionStages() []Spec {
	return []Spec{
		{
			Name:             StageCompetitorAnalyst,
			RecordType:       memory.TypeCompetitorMap,
			System:           "You are a competitive intelligence analyst. You map incumbents honestly, including the ones that make an idea pointless.",
			Instruction:      "Using the research so far, map the competitive landscape for solving this problem. Cover: direct competitors, adjacent products that could expand into the space, switching costs, and the most defensible wedge a newcomer could take.",
			UsesPriorRecords: true,
		},
		{
			Name:             StageResourceScout,
			RecordType:       memory.TypeResourcePlan,
			System:           "You are a pragmatic technical founder estimating what a first version actually takes to build.",
			Instruction:      "Outline what a minimal credible solution requires. Cover: core technical components, build-vs-buy choices, team and time for a first version, and the biggest execution risk.",
			UsesPriorRecords: true,
		},
		{
			Name:             StageHypothesisArchitect,
			RecordType:       memory.TypeHypothesis,
			System:           "You are a lean-startup coach who turns research into falsifiable hypotheses.",
			Instruction:      "Synthesize the findings so far into a solution hypothesis. State: the target customer, the core value proposition, the riskiest assumption, and the cheapest experiment that would test it.",
			UsesPriorRecords: true,
		},
	}
}

// ProblemScoringStage returns the stage that rates the problem bucket.
func ProblemScoringStage() Spec {
	return Spec{
		Name:             StageProblemScorer,
		RecordType:       memory.TypeScorecard,
		System:           "You are a dispassionate evaluator. You score strictly against the rubric and output machine-readable JSON.",
		Instruction:      scoringInstruction("problem", scoring.ProblemRubric()),
		Validate:         validateProblemScorecard,
		UsesPriorRecords: true,
	}
}

// SolutionScoringStage returns the stage that rates the solution bucket.
func SolutionScoringStage() Spec {
	return Spec{
		Name:             StageSolutionScorer,
		RecordType:       memory.TypeScorecard,
		System:           "You are a dispassionate evaluator. You score strictly against the rubric and output machine-readable JSON.",
		Instruction:      scoringInstruction("solution", scoring.SolutionRubric()),
		Validate:         validateSolutionScorecard,
		UsesPriorRecords: true,
	}
}

// ReportStage returns the closing narrative stage. When the session was
// eliminated or failed its verdict, the instruction additionally asks
// for alternative-direction suggestions.
func ReportStage(suggestPivots bool) Spec {
	instruction := "Write a concise evaluation summary of this problem and the research gathered. Cover: what was validated, what remains unproven, and a clear go/no-go recommendation."
	if suggestPivots {
		instruction += " The idea did not clear the bar, so close with two or three alternative directions: adjacent problems or reframings that the research suggests are more promising, each with one sentence of rationale."
	}
	return Spec{
		Name:             StageReportGenerator,
		RecordType:       memory.TypeReport,
		System:           "You are a clear technical writer producing an investor-readable evaluation summary.",
		Instruction:      instruction,
		UsesPriorRecords: true,
	}
}

func scoringInstruction(bucket string, rubric []scoring.Criterion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score the %s on each criterion from 1 to 10:\n\n", bucket)
	b.WriteString(scoring.PromptBlock(rubric))
	b.WriteString("\nRespond with a single JSON object whose keys are exactly the criterion names and whose values are numbers. Add a \"rationale\" string field explaining the scores.")
	return b.String()
}

func validateProblemScorecard(output string) error {
	criteria, err := scoring.ParseProblemCriteria(output)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if _, err := scoring.ProblemScore(criteria); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

func validateSolutionScorecard(output string) error {
	criteria, err := scoring.ParseSolutionCriteria(output)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if _, err := scoring.SolutionScore(criteria); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}
