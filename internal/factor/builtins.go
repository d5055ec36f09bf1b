package factor

import (
	"math"

	"factor-lab/internal/domain"
)

// Builtin factor names.
const (
	BiasVolume         = "bias_volume"
	MomentumVolatility = "momentum_volatility"
	TypicalPriceCCI    = "typical_price_cci"
)

// NewDefaultRegistry returns a Registry holding the builtin factors.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(BiasVolume, SignalFunc(biasVolume))
	_ = r.Register(MomentumVolatility, SignalFunc(momentumVolatility))
	_ = r.Register(TypicalPriceCCI, SignalFunc(typicalPriceCCI))
	return r
}

// biasVolume: close bias against its EWM, weighted by the rolling mean of
// volume normalised into its own rolling range, then smoothed.
func biasVolume(bars []domain.Bar, n int) []float64 {
	return perSymbol(bars, func(series []domain.Bar) []float64 {
		closes := field(series, func(b domain.Bar) float64 { return b.Close })
		volume := field(series, func(b domain.Bar) float64 { return b.Volume })

		mean := ewm(closes, n)
		volHigh := rollingMax(volume, n)
		volLow := rollingMin(volume, n)

		regVol := make([]float64, len(series))
		for i := range series {
			regVol[i] = (volume[i] - volLow[i]) / (volHigh[i] - volLow[i])
		}
		regVolMean := rollingMean(regVol, n)

		bias2 := make([]float64, len(series))
		for i := range series {
			bias := closes[i]/mean[i] - 1
			bias2[i] = bias * regVolMean[i]
		}
		return rollingMean(bias2, n)
	})
}

// momentumVolatility: smoothed n-period momentum scaled by the sum of the
// n-period range and the mean bar range.
func momentumVolatility(bars []domain.Bar, n int) []float64 {
	return perSymbol(bars, func(series []domain.Bar) []float64 {
		closes := field(series, func(b domain.Bar) float64 { return b.Close })
		highs := field(series, func(b domain.Bar) float64 { return b.High })
		lows := field(series, func(b domain.Bar) float64 { return b.Low })

		lagged := shift(closes, n)
		mtm := make([]float64, len(series))
		barRange := make([]float64, len(series))
		for i := range series {
			mtm[i] = closes[i]/lagged[i] - 1
			barRange[i] = highs[i]/lows[i] - 1
		}

		highMax := rollingMax(highs, n)
		lowMin := rollingMin(lows, n)
		barRangeMean := rollingMean(barRange, n)
		mtmMean := rollingMean(mtm, n)

		out := make([]float64, len(series))
		for i := range series {
			volatility := highMax[i] - lowMin[i] - 1
			out[i] = mtmMean[i] * (volatility + barRangeMean[i])
		}
		return out
	})
}

// typicalPriceCCI: commodity-channel style deviation of the EWM-smoothed
// typical price from its own EWM.
func typicalPriceCCI(bars []domain.Bar, n int) []float64 {
	return perSymbol(bars, func(series []domain.Bar) []float64 {
		oma := ewm(field(series, func(b domain.Bar) float64 { return b.Open }), n)
		hma := ewm(field(series, func(b domain.Bar) float64 { return b.High }), n)
		lma := ewm(field(series, func(b domain.Bar) float64 { return b.Low }), n)
		cma := ewm(field(series, func(b domain.Bar) float64 { return b.Close }), n)

		tp := make([]float64, len(series))
		for i := range series {
			tp[i] = (oma[i] + hma[i] + lma[i] + cma[i]) / 4
		}
		ma := ewm(tp, n)

		absDiff := make([]float64, len(series))
		for i := range series {
			absDiff[i] = math.Abs(tp[i] - ma[i])
		}
		md := ewm(absDiff, n)

		out := make([]float64, len(series))
		for i := range series {
			out[i] = (tp[i] - ma[i]) / (md[i] + 1e-8)
		}
		return out
	})
}
