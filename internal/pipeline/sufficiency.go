// Package pipeline checks that stored bar history can support a strategy
// before a backtest is run.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// MinRetNextCoverage is the minimum share of bars with a finite ret_next.
const MinRetNextCoverage = 0.9

// SufficiencyCheck represents one data sufficiency criterion.
type SufficiencyCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// SufficiencyResult contains all checks.
type SufficiencyResult struct {
	Checks  []SufficiencyCheck
	AllPass bool
	Errors  []string // data integrity errors
}

// SufficiencyChecker validates bar history against a strategy config.
type SufficiencyChecker struct {
	barStore storage.BarStore
}

// NewSufficiencyChecker creates a new sufficiency checker.
func NewSufficiencyChecker(barStore storage.BarStore) *SufficiencyChecker {
	return &SufficiencyChecker{barStore: barStore}
}

// Check loads every bar and runs all checks for cfg.
func (c *SufficiencyChecker) Check(ctx context.Context, cfg domain.StrategyConfig) (*SufficiencyResult, error) {
	bars, err := c.barStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars: %w", err)
	}
	return CheckBars(bars, cfg), nil
}

// CheckBars runs all checks over an in-memory bar table.
func CheckBars(bars []domain.Bar, cfg domain.StrategyConfig) *SufficiencyResult {
	result := &SufficiencyResult{
		Checks:  make([]SufficiencyCheck, 0, 5),
		AllPass: true,
		Errors:  []string{},
	}
	add := func(check SufficiencyCheck, errs []string) {
		result.Checks = append(result.Checks, check)
		if !check.Pass {
			result.AllPass = false
			result.Errors = append(result.Errors, errs...)
		}
	}

	// Check 1: every timestamp can fill both baskets
	add(checkCrossSection(bars, cfg.CoinNum), nil)

	// Check 2: every symbol has at least one full lookback window
	add(checkHistoryLength(bars, cfg.Window))

	// Check 3: duplicate (symbol, timestamp) count == 0
	add(checkDuplicates(bars))

	// Check 4: forward returns present
	add(checkRetNextCoverage(bars), nil)

	// Check 5: at least one offset group
	add(checkOffsets(bars), nil)

	return result
}

// checkCrossSection: smallest cross-section >= 2*coin_num.
func checkCrossSection(bars []domain.Bar, coinNum int) SufficiencyCheck {
	counts := make(map[int64]int)
	for _, b := range bars {
		counts[b.Timestamp.UnixNano()]++
	}
	smallest := 0
	for _, n := range counts {
		if smallest == 0 || n < smallest {
			smallest = n
		}
	}
	return SufficiencyCheck{
		Name:      "Smallest cross-section",
		Threshold: fmt.Sprintf(">= %d symbols", 2*coinNum),
		Actual:    fmt.Sprintf("%d symbols over %d timestamps", smallest, len(counts)),
		Pass:      len(counts) > 0 && smallest >= 2*coinNum,
	}
}

// checkHistoryLength: bars per symbol > window.
func checkHistoryLength(bars []domain.Bar, window int) (SufficiencyCheck, []string) {
	perSymbol := make(map[string]int)
	for _, b := range bars {
		perSymbol[b.Symbol]++
	}

	symbols := make([]string, 0, len(perSymbol))
	for s := range perSymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var errs []string
	for _, s := range symbols {
		if perSymbol[s] <= window {
			errs = append(errs, fmt.Sprintf("symbol %s has %d bars, window is %d", s, perSymbol[s], window))
		}
	}
	return SufficiencyCheck{
		Name:      "Symbols shorter than window",
		Threshold: "= 0",
		Actual:    fmt.Sprintf("%d of %d", len(errs), len(symbols)),
		Pass:      len(symbols) > 0 && len(errs) == 0,
	}, errs
}

// checkDuplicates: duplicate (symbol, timestamp) count == 0.
func checkDuplicates(bars []domain.Bar) (SufficiencyCheck, []string) {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]int)
	for _, b := range bars {
		seen[key{b.Symbol, b.Timestamp.UnixNano()}]++
	}

	var errs []string
	for k, n := range seen {
		if n > 1 {
			errs = append(errs, fmt.Sprintf("duplicate bar: %s at %d (count=%d)", k.symbol, k.ts, n))
		}
	}
	// Sort for deterministic output
	sort.Strings(errs)

	return SufficiencyCheck{
		Name:      "Duplicate (symbol, timestamp) count",
		Threshold: "= 0",
		Actual:    fmt.Sprintf("%d", len(errs)),
		Pass:      len(errs) == 0,
	}, errs
}

// checkRetNextCoverage: share of finite ret_next >= MinRetNextCoverage.
func checkRetNextCoverage(bars []domain.Bar) SufficiencyCheck {
	finite := 0
	for _, b := range bars {
		if !math.IsNaN(b.RetNext) && !math.IsInf(b.RetNext, 0) {
			finite++
		}
	}
	share := 0.0
	if len(bars) > 0 {
		share = float64(finite) / float64(len(bars))
	}
	return SufficiencyCheck{
		Name:      "ret_next coverage",
		Threshold: fmt.Sprintf(">= %.0f%%", MinRetNextCoverage*100),
		Actual:    fmt.Sprintf("%.1f%%", share*100),
		Pass:      share >= MinRetNextCoverage,
	}
}

// checkOffsets: at least one offset group.
func checkOffsets(bars []domain.Bar) SufficiencyCheck {
	offsets := make(map[int]struct{})
	for _, b := range bars {
		offsets[b.Offset] = struct{}{}
	}
	return SufficiencyCheck{
		Name:      "Offset groups",
		Threshold: ">= 1",
		Actual:    fmt.Sprintf("%d", len(offsets)),
		Pass:      len(offsets) >= 1,
	}
}
