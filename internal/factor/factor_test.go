package factor

import (
	"errors"
	"math"
	"testing"
	"time"

	"factor-lab/internal/domain"
)

func closeSignal(bars []domain.Bar, _ int) []float64 {
	return field(bars, func(b domain.Bar) float64 { return b.Close })
}

func reverseCloseSignal(bars []domain.Bar, _ int) []float64 {
	out := closeSignal(bars, 0)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func constantSignal(bars []domain.Bar, _ int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = 7
	}
	return out
}

func testBars(closes ...float64) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c, Low: c, Close: c,
			Volume: 100,
		}
	}
	return bars
}

func TestMinMaxScale_Basic(t *testing.T) {
	got := MinMaxScale([]float64{1, 2, 3})
	want := []float64{0, 0.5, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestMinMaxScale_ConstantColumnIsNaN(t *testing.T) {
	got := MinMaxScale([]float64{5, 5, 5})
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("index %d: expected NaN, got %v", i, v)
		}
	}
}

func TestMinMaxScale_IgnoresNaNForExtremes(t *testing.T) {
	got := MinMaxScale([]float64{math.NaN(), 0, 10, 5})
	if !math.IsNaN(got[0]) {
		t.Errorf("expected NaN to stay NaN, got %v", got[0])
	}
	if got[1] != 0 || got[2] != 1 || got[3] != 0.5 {
		t.Errorf("unexpected scaling: %v", got)
	}
}

func TestRegistry_ResolveKeepsOrder(t *testing.T) {
	r := NewDefaultRegistry()
	weights := domain.FactorWeights{
		{Name: TypicalPriceCCI, Weight: 0.2},
		{Name: BiasVolume, Weight: 0.5},
		{Name: MomentumVolatility, Weight: 0.3},
	}

	resolved, err := r.Resolve(weights)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("expected 3 resolved factors, got %d", len(resolved))
	}
	for i, w := range weights {
		if resolved[i].Name != w.Name || resolved[i].Weight != w.Weight {
			t.Errorf("index %d: expected %s/%v, got %s/%v",
				i, w.Name, w.Weight, resolved[i].Name, resolved[i].Weight)
		}
	}
}

func TestRegistry_ResolveUnknownFactor(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.Resolve(domain.FactorWeights{{Name: "does_not_exist", Weight: 1}})
	if !errors.Is(err, ErrUnknownFactor) {
		t.Errorf("expected ErrUnknownFactor, got %v", err)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("x", SignalFunc(closeSignal)); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register("x", SignalFunc(closeSignal)); !errors.Is(err, ErrDuplicateFactor) {
		t.Errorf("expected ErrDuplicateFactor, got %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	names := NewDefaultRegistry().List()
	want := []string{BiasVolume, MomentumVolatility, TypicalPriceCCI}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestCombine_WeightedSumOfScaledSignals(t *testing.T) {
	bars := testBars(1, 2, 3)
	factors := []Resolved{
		{Name: "up", Weight: 0.5, Signal: SignalFunc(closeSignal)},
		{Name: "down", Weight: 2, Signal: SignalFunc(reverseCloseSignal)},
	}

	col, err := Combine(bars, factors, 3)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if col.Name != domain.CombinedFactorColumn {
		t.Errorf("expected column %s, got %s", domain.CombinedFactorColumn, col.Name)
	}

	// up scaled [0, .5, 1] * .5 + down scaled [1, .5, 0] * 2
	want := []float64{2, 1.25, 0.5}
	for i := range want {
		if col.Values[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], col.Values[i])
		}
	}
}

func TestCombine_DegenerateFactorPropagatesNaN(t *testing.T) {
	bars := testBars(1, 2, 3)
	factors := []Resolved{
		{Name: "up", Weight: 1, Signal: SignalFunc(closeSignal)},
		{Name: "flat", Weight: 1, Signal: SignalFunc(constantSignal)},
	}

	col, err := Combine(bars, factors, 3)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	for i, v := range col.Values {
		if !math.IsNaN(v) {
			t.Errorf("index %d: expected NaN, got %v", i, v)
		}
	}
}

func TestCombine_NoFactorsIsZero(t *testing.T) {
	col, err := Combine(testBars(1, 2), nil, 3)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	for i, v := range col.Values {
		if v != 0 {
			t.Errorf("index %d: expected 0, got %v", i, v)
		}
	}
}

func TestCombine_DoesNotMutateBars(t *testing.T) {
	bars := testBars(1, 2, 3)
	before := make([]domain.Bar, len(bars))
	copy(before, bars)

	_, err := Combine(bars, []Resolved{{Name: TypicalPriceCCI, Weight: 1, Signal: SignalFunc(typicalPriceCCI)}}, 2)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	for i := range bars {
		if bars[i] != before[i] {
			t.Errorf("bar %d mutated", i)
		}
	}
}

func TestCombine_SignalLengthMismatch(t *testing.T) {
	short := SignalFunc(func(_ []domain.Bar, _ int) []float64 { return []float64{1} })
	_, err := Combine(testBars(1, 2, 3), []Resolved{{Name: "short", Weight: 1, Signal: short}}, 3)
	if !errors.Is(err, ErrSignalLength) {
		t.Errorf("expected ErrSignalLength, got %v", err)
	}
}

func TestEWM(t *testing.T) {
	// span 3 -> alpha 0.5; the NaN gap ages the previous average
	tests := []struct {
		in   []float64
		want []float64
	}{
		{[]float64{1, 2, 3}, []float64{1, 1.5, 2.25}},
		{[]float64{1, 2, math.NaN(), 3}, []float64{1, 1.5, 1.5, 2.5}},
		{[]float64{1, 2, math.NaN(), 4}, []float64{1, 1.5, 1.5, 19.0 / 6}},
	}
	for _, tt := range tests {
		got := ewm(tt.in, 3)
		for i := range tt.want {
			if diff := got[i] - tt.want[i]; diff > 1e-12 || diff < -1e-12 {
				t.Errorf("%v index %d: expected %v, got %v", tt.in, i, tt.want[i], got[i])
			}
		}
	}
}

func TestEWM_LeadingNaN(t *testing.T) {
	got := ewm([]float64{math.NaN(), 4}, 3)
	if !math.IsNaN(got[0]) {
		t.Errorf("expected leading NaN, got %v", got[0])
	}
	if got[1] != 4 {
		t.Errorf("expected seed 4, got %v", got[1])
	}
}

func TestRollingHelpers(t *testing.T) {
	x := []float64{1, 2, math.NaN(), 4}

	mean := rollingMean(x, 2)
	wantMean := []float64{1, 1.5, 2, 4}
	for i := range wantMean {
		if mean[i] != wantMean[i] {
			t.Errorf("mean index %d: expected %v, got %v", i, wantMean[i], mean[i])
		}
	}

	mx := rollingMax(x, 3)
	wantMax := []float64{1, 2, 2, 4}
	for i := range wantMax {
		if mx[i] != wantMax[i] {
			t.Errorf("max index %d: expected %v, got %v", i, wantMax[i], mx[i])
		}
	}

	mn := rollingMin(x, 3)
	wantMin := []float64{1, 1, 1, 2}
	for i := range wantMin {
		if mn[i] != wantMin[i] {
			t.Errorf("min index %d: expected %v, got %v", i, wantMin[i], mn[i])
		}
	}
}

func TestShift(t *testing.T) {
	got := shift([]float64{1, 2, 3}, 1)
	if !math.IsNaN(got[0]) || got[1] != 1 || got[2] != 2 {
		t.Errorf("unexpected shift result: %v", got)
	}
}

func TestMomentum_PerSymbol(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Symbol: "A", Timestamp: base, Close: 10},
		{Symbol: "B", Timestamp: base, Close: 20},
		{Symbol: "A", Timestamp: base.Add(time.Hour), Close: 11},
		{Symbol: "B", Timestamp: base.Add(time.Hour), Close: 10},
	}

	got := Momentum(bars, 1)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Errorf("expected NaN for first bar of each symbol, got %v", got[:2])
	}
	if math.Abs(got[2]-10) > 1e-9 {
		t.Errorf("expected A momentum 10%%, got %v", got[2])
	}
	if math.Abs(got[3]+50) > 1e-9 {
		t.Errorf("expected B momentum -50%%, got %v", got[3])
	}
}

func TestBuiltins_ConstantPrices(t *testing.T) {
	bars := testBars(10, 10, 10, 10, 10)

	cci := typicalPriceCCI(bars, 3)
	for i, v := range cci {
		if v != 0 {
			t.Errorf("typical_price_cci index %d: expected 0, got %v", i, v)
		}
	}

	mv := momentumVolatility(bars, 2)
	if !math.IsNaN(mv[0]) || !math.IsNaN(mv[1]) {
		t.Errorf("momentum_volatility: expected NaN warm-up, got %v", mv[:2])
	}
	for i := 2; i < len(mv); i++ {
		if mv[i] != 0 {
			t.Errorf("momentum_volatility index %d: expected 0, got %v", i, mv[i])
		}
	}

	// Constant volume makes the normalised volume 0/0.
	bv := biasVolume(bars, 3)
	for i, v := range bv {
		if !math.IsNaN(v) {
			t.Errorf("bias_volume index %d: expected NaN, got %v", i, v)
		}
	}
}

func TestBuiltins_AlignedWithBars(t *testing.T) {
	bars := testBars(1, 2, 3, 2, 1, 4)
	for i := range bars {
		bars[i].Volume = float64(100 + i*10)
		bars[i].High = bars[i].Close * 1.01
		bars[i].Low = bars[i].Close * 0.99
	}

	r := NewDefaultRegistry()
	for _, name := range r.List() {
		s, _ := r.Get(name)
		col := s.Compute(bars, 3, name)
		if col.Name != name {
			t.Errorf("%s: expected column name %s, got %s", name, name, col.Name)
		}
		if len(col.Values) != len(bars) {
			t.Errorf("%s: expected %d values, got %d", name, len(bars), len(col.Values))
		}
	}
}
