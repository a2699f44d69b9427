package risk

import "math"

// Normalization ceilings used by DeriveFactors.
const (
	// LiquidityFullScaleTVL is the TVL (USD) mapped to liquidity 1.0 on a log10 scale.
	LiquidityFullScaleTVL = 1e9
	// VolatilityCeiling is the per-period volatility mapped to stability 0.
	VolatilityCeiling = 0.05
	// YieldCeilingPct is the APY (percent) mapped to yield 1.0.
	YieldCeilingPct = 100.0
)

// FactorInputs are raw observations for one pool over the lookback window.
type FactorInputs struct {
	Values     []float64 // price (or TVL fallback) series used for volatility and momentum
	TVL        []float64
	LatestAPY  float64 // percent
	Volatility float64 // per-period, as returned by CalculateVolatility
}

// DeriveFactors normalizes raw observations into Factors. Every output is in [0,1].
func DeriveFactors(in FactorInputs) Factors {
	return Factors{
		Liquidity:     liquidityFactor(lastPositive(in.TVL)),
		Stability:     clampUnit(1 - in.Volatility/VolatilityCeiling),
		Yield:         clampUnit(in.LatestAPY / YieldCeilingPct),
		Concentration: concentrationFactor(in.TVL),
		Momentum:      momentumFactor(in.Values),
	}
}

func liquidityFactor(tvl float64) float64 {
	if tvl <= 1 {
		return 0
	}
	return clampUnit(math.Log10(tvl) / math.Log10(LiquidityFullScaleTVL))
}

// concentrationFactor is the largest single-period TVL outflow as a fraction of the
// prior TVL. A pool whose liquidity can leave in one step is concentrated in few hands.
func concentrationFactor(tvl []float64) float64 {
	worst := 0.0
	for i := 1; i < len(tvl); i++ {
		prev := tvl[i-1]
		if prev <= 0 {
			continue
		}
		if outflow := (prev - tvl[i]) / prev; outflow > worst {
			worst = outflow
		}
	}
	return clampUnit(worst)
}

// momentumFactor maps the window return [-1,+1] onto [0,1]; 0.5 is flat.
func momentumFactor(values []float64) float64 {
	first, last := firstPositive(values), lastPositive(values)
	if first <= 0 || last <= 0 {
		return 0.5
	}
	return clampUnit(0.5 + (last/first-1)/2)
}

func firstPositive(values []float64) float64 {
	for _, v := range values {
		if v > 0 && isFinite(v) {
			return v
		}
	}
	return 0
}

func lastPositive(values []float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if v := values[i]; v > 0 && isFinite(v) {
			return v
		}
	}
	return 0
}
