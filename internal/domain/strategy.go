package domain

// StrategyConfig holds the parameters of a named strategy configuration.
// Passed by value through the pipeline.
type StrategyConfig struct {
	Name     string
	CoinNum  int     // symbols held per side
	Window   int     // factor lookback
	HoldHour string  // holding period label, e.g. "4H"
	CRate    float64 // commission rate per side

	Factors FactorWeights
}

// FactorWeight is one entry of a factor blend.
type FactorWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// FactorWeights is an ordered factor blend. Order is significant: the
// composite is accumulated in this order.
type FactorWeights []FactorWeight

// Names returns the factor names in blend order.
func (w FactorWeights) Names() []string {
	names := make([]string, len(w))
	for i, fw := range w {
		names[i] = fw.Name
	}
	return names
}
