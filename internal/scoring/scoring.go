// Package scoring computes weighted evaluation scores and verdicts.
//
// All functions are pure: they map criterion inputs to numbers and
// never touch storage or the network.
package scoring

import (
	"errors"
	"fmt"
)

// Score bounds and bucket weights.
const (
	MinScore = 1.0
	MaxScore = 10.0

	// ProblemWeight and SolutionWeight combine bucket scores into the
	// overall score.
	ProblemWeight  = 0.6
	SolutionWeight = 0.4
)

var (
	// ErrScoreOutOfRange is returned when a criterion falls outside [1,10].
	ErrScoreOutOfRange = errors.New("criterion score out of range")

	// ErrMissingCriterion is returned when a required criterion is absent.
	ErrMissingCriterion = errors.New("missing criterion")
)

// ProblemCriteria are the four problem-validation dimensions, each
// rated 1-10 and weighted equally.
type ProblemCriteria struct {
	Severity         float64 `json:"severity"`
	MarketSize       float64 `json:"market_size"`
	WillingnessToPay float64 `json:"willingness_to_pay"`
	SolutionFit      float64 `json:"solution_fit"`
}

// SolutionCriteria are the four solution-validation dimensions, each
// rated 1-10 and weighted equally.
type SolutionCriteria struct {
	TechnicalViability   float64 `json:"technical_viability"`
	CompetitiveAdvantage float64 `json:"competitive_advantage"`
	ResourceRequirements float64 `json:"resource_requirements"`
	TimeToMarket         float64 `json:"time_to_market"`
}

// Verdict is the pass/fail outcome of an evaluation.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

func validateScore(name string, value float64) error {
	if value < MinScore || value > MaxScore {
		return fmt.Errorf("%w: %s=%.2f (must be in [%.0f,%.0f])", ErrScoreOutOfRange, name, value, MinScore, MaxScore)
	}
	return nil
}

// ProblemScore returns the arithmetic mean of the four problem criteria.
// Any criterion outside [1,10] is a validation error, not clamped.
func ProblemScore(c ProblemCriteria) (float64, error) {
	criteria := []struct {
		name  string
		value float64
	}{
		{"severity", c.Severity},
		{"market_size", c.MarketSize},
		{"willingness_to_pay", c.WillingnessToPay},
		{"solution_fit", c.SolutionFit},
	}

	var sum float64
	for _, cr := range criteria {
		if err := validateScore(cr.name, cr.value); err != nil {
			return 0, err
		}
		sum += cr.value
	}
	return sum / float64(len(criteria)), nil
}

// SolutionScore returns the arithmetic mean of the four solution criteria.
// Any criterion outside [1,10] is a validation error, not clamped.
func SolutionScore(c SolutionCriteria) (float64, error) {
	criteria := []struct {
		name  string
		value float64
	}{
		{"technical_viability", c.TechnicalViability},
		{"competitive_advantage", c.CompetitiveAdvantage},
		{"resource_requirements", c.ResourceRequirements},
		{"time_to_market", c.TimeToMarket},
	}

	var sum float64
	for _, cr := range criteria {
		if err := validateScore(cr.name, cr.value); err != nil {
			return 0, err
		}
		sum += cr.value
	}
	return sum / float64(len(criteria)), nil
}

// Combined weights the bucket scores 60/40. When the solution phase
// never ran, its contribution is zero, not imputed.
func Combined(problemScore float64, solutionScore *float64) float64 {
	if solutionScore == nil {
		return problemScore * ProblemWeight
	}
	return problemScore*ProblemWeight + *solutionScore*SolutionWeight
}

// Decide returns PASS when the combined score meets the threshold.
// The boundary is inclusive: combined == threshold passes.
func Decide(combined, threshold float64) Verdict {
	if combined >= threshold {
		return VerdictPass
	}
	return VerdictFail
}

// Scores is the session-level score document.
type Scores struct {
	Problem  *float64 `json:"problem"`
	Solution *float64 `json:"solution"`
	Combined *float64 `json:"combined"`
}
