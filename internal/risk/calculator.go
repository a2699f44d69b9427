package risk

import (
	"math"
)

// Composite score weights. They sum to 1 so the weighted factor blend stays in [0,1]
// before scaling to [0,100].
const (
	WeightLiquidity     = 0.25
	WeightStability     = 0.25
	WeightYield         = 0.15
	WeightConcentration = 0.20
	WeightMomentum      = 0.15
)

// Level cut points. A score equal to a cut point belongs to the higher band.
const (
	LowRiskCutoff  = 34.0
	HighRiskCutoff = 67.0
)

// zeroDeviation absorbs float noise when every return is identical.
const zeroDeviation = 1e-12

// Level classifies a risk score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Rank orders levels low < medium < high. Unknown levels rank below low.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

// Factors are normalized risk inputs, each expected in [0,1].
type Factors struct {
	Liquidity     float64 `json:"liquidity"`
	Stability     float64 `json:"stability"`
	Yield         float64 `json:"yield"`
	Concentration float64 `json:"concentration"`
	Momentum      float64 `json:"momentum"`
}

// CalculateRiskScore blends the factors into a score in [0,100]. Out-of-range factors
// are clamped. Higher liquidity, stability and momentum lower the score; higher yield
// and concentration raise it.
func CalculateRiskScore(f Factors) float64 {
	liquidity := clampUnit(f.Liquidity)
	stability := clampUnit(f.Stability)
	yield := clampUnit(f.Yield)
	concentration := clampUnit(f.Concentration)
	momentum := clampUnit(f.Momentum)

	blend := WeightLiquidity*(1-liquidity) +
		WeightStability*(1-stability) +
		WeightYield*yield +
		WeightConcentration*concentration +
		WeightMomentum*(1-momentum)

	score := blend * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// GetRiskLevel buckets a score using LowRiskCutoff and HighRiskCutoff.
func GetRiskLevel(score float64) Level {
	switch {
	case score < LowRiskCutoff:
		return LevelLow
	case score < HighRiskCutoff:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Returns computes simple period-over-period returns. Pairs whose previous price is
// not positive are skipped.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 || !isFinite(prev) || !isFinite(prices[i]) {
			continue
		}
		out = append(out, (prices[i]-prev)/prev)
	}
	return out
}

// CalculateVolatility returns the population standard deviation of simple returns.
// Fewer than two prices, or no usable return, yields 0.
func CalculateVolatility(prices []float64) float64 {
	returns := Returns(prices)
	if len(returns) == 0 {
		return 0
	}
	return stddev(returns, mean(returns))
}

// AnnualizeVolatility scales a per-period volatility by sqrt(periodsPerYear),
// e.g. 365 for daily samples.
func AnnualizeVolatility(vol, periodsPerYear float64) float64 {
	if periodsPerYear <= 0 {
		return vol
	}
	return vol * math.Sqrt(periodsPerYear)
}

// CalculateSharpeRatio returns (mean(returns) - riskFreeRate) / stdev(returns).
// It returns 0 instead of NaN or Inf when the deviation is zero or there are fewer
// than two returns.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	sd := stddev(returns, m)
	if sd < zeroDeviation || !isFinite(sd) {
		return 0
	}
	ratio := (m - riskFreeRate) / sd
	if !isFinite(ratio) {
		return 0
	}
	return ratio
}

// CalculateMaxDrawdown scans left to right tracking the running peak and returns the
// largest (peak-price)/peak observed, as a non-negative fraction.
func CalculateMaxDrawdown(prices []float64) float64 {
	if len(prices) <= 1 {
		return 0
	}
	peak := prices[0]
	maxDrawdown := 0.0
	for _, p := range prices[1:] {
		if p > peak {
			peak = p
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// DrawdownSeries returns the drawdown from the running peak at every point.
func DrawdownSeries(prices []float64) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	peak := prices[0]
	for i, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			out[i] = (peak - p) / peak
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev uses the population (N) denominator.
func stddev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - m
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// clampUnit maps NaN to the neutral 0.5.
func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
