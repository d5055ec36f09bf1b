package decision

import (
	"fmt"
	"math"
)

// Thresholds used by the evaluator.
const (
	MinPositiveOffsetPct = 50.0
	MinMeanRatio         = 1.0
	MaxDrawdownLimit     = -0.5
	MinStressRetention   = 0.5 // stressed profit / baseline profit
)

// Evaluator evaluates decision criteria.
type Evaluator struct{}

// NewEvaluator creates a new decision evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate produces DecisionResult from DecisionInput.
// GO if ALL criteria pass and NO NO-GO triggers.
// NO-GO if ANY criterion fails or ANY trigger fires.
func (e *Evaluator) Evaluate(input DecisionInput) (*DecisionResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	goCriteria := e.evaluateGOCriteria(input)
	nogoChecks := e.evaluateNOGOTriggers(input)

	decision := DecisionGO
	for _, c := range append(goCriteria, nogoChecks...) {
		if !c.Pass {
			decision = DecisionNOGO
			break
		}
	}

	return &DecisionResult{
		Decision:     decision,
		StrategyName: input.StrategyName,
		RunID:        input.RunID,
		GOCriteria:   goCriteria,
		NOGOChecks:   nogoChecks,
	}, nil
}

// evaluateGOCriteria evaluates the 5 GO criteria.
func (e *Evaluator) evaluateGOCriteria(input DecisionInput) []CriterionResult {
	criteria := make([]CriterionResult, 5)

	// 1. Pooled curve ends in profit
	criteria[0] = CriterionResult{
		Name:      "Pooled net value",
		Threshold: "> 1",
		Actual:    fmt.Sprintf("%.4f", input.NetValue),
		Pass:      input.NetValue > 1,
	}

	// 2. Most offsets profitable
	criteria[1] = CriterionResult{
		Name:      "Profitable offsets",
		Threshold: fmt.Sprintf(">= %.0f%%", MinPositiveOffsetPct),
		Actual:    fmt.Sprintf("%.2f%%", input.PositiveOffsetPct),
		Pass:      input.PositiveOffsetPct >= MinPositiveOffsetPct,
	}

	// 3. Stable under higher costs: stressed profit keeps at least half of baseline profit
	stabilityPass := false
	var stabilityActual string
	if input.NetValue > 1 {
		retention := (input.StressedNetValue - 1) / (input.NetValue - 1)
		stabilityPass = input.StressedNetValue > 1 && retention >= MinStressRetention
		stabilityActual = fmt.Sprintf("Stressed=%.4f, Retention=%.2f", input.StressedNetValue, retention)
	} else {
		stabilityActual = fmt.Sprintf("Stressed=%.4f, Baseline=%.4f", input.StressedNetValue, input.NetValue)
	}
	criteria[2] = CriterionResult{
		Name:      fmt.Sprintf("Stable at %gx commission", input.StressMultiplier),
		Threshold: fmt.Sprintf("Stressed > 1 AND retention >= %.1f", MinStressRetention),
		Actual:    stabilityActual,
		Pass:      stabilityPass,
	}

	// 4. Return justifies drawdown; NaN (no drawdown anywhere) passes
	criteria[3] = CriterionResult{
		Name:      "Mean return / drawdown",
		Threshold: fmt.Sprintf(">= %.1f", MinMeanRatio),
		Actual:    fmt.Sprintf("%.2f", input.MeanRatio),
		Pass:      math.IsNaN(input.MeanRatio) || input.MeanRatio >= MinMeanRatio,
	}

	// 5. Drawdown bounded
	criteria[4] = CriterionResult{
		Name:      "Maximum drawdown",
		Threshold: fmt.Sprintf("> %.0f%%", MaxDrawdownLimit*100),
		Actual:    fmt.Sprintf("%.2f%%", input.MaximumDrawdown*100),
		Pass:      input.MaximumDrawdown > MaxDrawdownLimit,
	}

	return criteria
}

// evaluateNOGOTriggers evaluates the 4 NO-GO triggers.
// Pass=true means NOT triggered, Pass=false means triggered.
func (e *Evaluator) evaluateNOGOTriggers(input DecisionInput) []CriterionResult {
	checks := make([]CriterionResult, 4)

	// 1. Pooled curve loses money
	checks[0] = CriterionResult{
		Name:      "Pooled loss",
		Threshold: "net value <= 1",
		Actual:    fmt.Sprintf("%.4f", input.NetValue),
		Pass:      !(input.NetValue <= 1),
	}

	// 2. Most offsets lose money
	checks[1] = CriterionResult{
		Name:      "Losing offsets dominate",
		Threshold: fmt.Sprintf("< %.0f%%", MinPositiveOffsetPct),
		Actual:    fmt.Sprintf("%.2f%%", input.PositiveOffsetPct),
		Pass:      !(input.PositiveOffsetPct < MinPositiveOffsetPct),
	}

	// 3. Edge disappears under stress
	triggered3 := input.NetValue > 1 && input.StressedNetValue <= 1
	checks[2] = CriterionResult{
		Name:      "Edge disappears at higher commission",
		Threshold: "Baseline > 1 AND Stressed <= 1",
		Actual:    fmt.Sprintf("Baseline=%.4f, Stressed=%.4f", input.NetValue, input.StressedNetValue),
		Pass:      !triggered3,
	}

	// 4. Drawdown beyond the limit
	checks[3] = CriterionResult{
		Name:      "Excessive drawdown",
		Threshold: fmt.Sprintf("<= %.0f%%", MaxDrawdownLimit*100),
		Actual:    fmt.Sprintf("%.2f%%", input.MaximumDrawdown*100),
		Pass:      input.MaximumDrawdown > MaxDrawdownLimit,
	}

	return checks
}
