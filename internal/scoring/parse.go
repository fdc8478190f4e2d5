package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseProblemCriteria extracts problem criteria from a scoring stage's
// output. The output must contain a JSON object with all four criteria
// as numeric fields; a missing or non-numeric criterion is a stage
// failure, never treated as zero.
func ParseProblemCriteria(output string) (ProblemCriteria, error) {
	values, err := parseCriteria(output, []string{"severity", "market_size", "willingness_to_pay", "solution_fit"})
	if err != nil {
		return ProblemCriteria{}, err
	}
	return ProblemCriteria{
		Severity:         values["severity"],
		MarketSize:       values["market_size"],
		WillingnessToPay: values["willingness_to_pay"],
		SolutionFit:      values["solution_fit"],
	}, nil
}

// ParseSolutionCriteria extracts solution criteria from a scoring
// stage's output under the same rules as ParseProblemCriteria.
func ParseSolutionCriteria(output string) (SolutionCriteria, error) {
	values, err := parseCriteria(output, []string{"technical_viability", "competitive_advantage", "resource_requirements", "time_to_market"})
	if err != nil {
		return SolutionCriteria{}, err
	}
	return SolutionCriteria{
		TechnicalViability:   values["technical_viability"],
		CompetitiveAdvantage: values["competitive_advantage"],
		ResourceRequirements: values["resource_requirements"],
		TimeToMarket:         values["time_to_market"],
	}, nil
}

func parseCriteria(output string, required []string) (map[string]float64, error) {
	raw, err := extractJSONObject(output)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parsing criteria JSON: %w", err)
	}

	values := make(map[string]float64, len(required))
	for _, key := range required {
		v, ok := lookupNumeric(doc, key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingCriterion, key)
		}
		values[key] = v
	}
	return values, nil
}

// lookupNumeric finds a numeric field at the top level or one level
// deep (models sometimes nest criteria under a wrapper object).
func lookupNumeric(doc map[string]interface{}, key string) (float64, bool) {
	if v, ok := doc[key].(float64); ok {
		return v, true
	}
	for _, nested := range doc {
		if m, ok := nested.(map[string]interface{}); ok {
			if v, ok := m[key].(float64); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// extractJSONObject pulls the outermost JSON object out of text that
// may surround it with prose or markdown fences.
func extractJSONObject(output string) (string, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("%w: no JSON object in output", ErrMissingCriterion)
	}
	return output[start : end+1], nil
}
