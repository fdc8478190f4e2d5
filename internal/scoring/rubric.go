package scoring

import (
	"fmt"
	"strings"
)

// Criterion describes one rated dimension for prompt construction.
type Criterion struct {
	Name   string
	Weight float64
	Guide  string
}

// ProblemRubric returns the problem-bucket criteria in scoring order.
func ProblemRubric() []Criterion {
	return []Criterion{
		{"severity", 0.25, "How painful is the problem for those who have it? 1 = mild annoyance, 10 = business-critical."},
		{"market_size", 0.25, "How many people or businesses have this problem? 1 = tiny niche, 10 = massive market."},
		{"willingness_to_pay", 0.25, "Would those affected pay for a solution today? 1 = expect it free, 10 = already paying for workarounds."},
		{"solution_fit", 0.25, "How well could a focused product address the root cause? 1 = structural/unsolvable, 10 = directly addressable."},
	}
}

// SolutionRubric returns the solution-bucket criteria in scoring order.
func SolutionRubric() []Criterion {
	return []Criterion{
		{"technical_viability", 0.25, "Can the proposed solution be built with current technology? 1 = research project, 10 = assembled from proven parts."},
		{"competitive_advantage", 0.25, "How defensible is the position against incumbents? 1 = commodity, 10 = durable moat."},
		{"resource_requirements", 0.25, "How lean can a first version be? 1 = needs heavy capital, 10 = weekend prototype."},
		{"time_to_market", 0.25, "How fast can it reach paying users? 1 = years, 10 = weeks."},
	}
}

// PromptBlock renders a rubric as instruction text for the scoring stage.
func PromptBlock(rubric []Criterion) string {
	var b strings.Builder
	for _, c := range rubric {
		fmt.Fprintf(&b, "- %s (weight %.0f%%): %s\n", c.Name, c.Weight*100, c.Guide)
	}
	return b.String()
}
