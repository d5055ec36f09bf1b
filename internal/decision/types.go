// Package decision turns a backtest and its commission stress run into a
// GO/NO-GO checklist for a strategy.
package decision

import (
	"errors"
	"math"
)

// Decision represents the final GO/NO-GO result.
type Decision string

const (
	DecisionGO   Decision = "GO"
	DecisionNOGO Decision = "NO-GO"
)

// Validation errors.
var (
	ErrNilInput        = errors.New("decision input is nil")
	ErrEmptyStrategyID = errors.New("strategy is empty")
	ErrInvalidMetric   = errors.New("metric is not finite")
)

// DecisionInput contains numeric metrics for decision evaluation.
type DecisionInput struct {
	// Pooled row of the baseline run
	NetValue        float64 // cumulative net value
	WinRate         float64 // fraction of profitable periods
	MaximumDrawdown float64 // <= 0

	// Share of offsets that ended above 1.0, in percent
	PositiveOffsetPct float64

	// Mean annual return / drawdown ratio; NaN when no offset had a drawdown
	MeanRatio float64

	// Pooled net value of the same strategy at stressed commission
	StressedNetValue float64
	StressMultiplier float64

	// Context
	StrategyName string
	RunID        string
}

// Validate checks the fields the evaluator relies on.
func (in *DecisionInput) Validate() error {
	if in == nil {
		return ErrNilInput
	}
	if in.StrategyName == "" {
		return ErrEmptyStrategyID
	}
	for _, v := range []float64{in.NetValue, in.WinRate, in.MaximumDrawdown, in.PositiveOffsetPct, in.StressedNetValue} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidMetric
		}
	}
	return nil
}

// CriterionResult represents pass/fail for one criterion.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// DecisionResult contains the final decision with checklist.
type DecisionResult struct {
	Decision     Decision
	StrategyName string
	RunID        string
	GOCriteria   []CriterionResult // 5 GO criteria
	NOGOChecks   []CriterionResult // 4 NO-GO triggers
}
