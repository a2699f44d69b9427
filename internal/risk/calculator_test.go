package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRiskScoreBounds(t *testing.T) {
	grid := []float64{0, 0.25, 0.5, 0.75, 1}
	for _, l := range grid {
		for _, s := range grid {
			for _, y := range grid {
				for _, c := range grid {
					for _, m := range grid {
						score := CalculateRiskScore(Factors{Liquidity: l, Stability: s, Yield: y, Concentration: c, Momentum: m})
						require.GreaterOrEqual(t, score, 0.0)
						require.LessOrEqual(t, score, 100.0)
					}
				}
			}
		}
	}
}

func TestCalculateRiskScoreExactValues(t *testing.T) {
	safest := Factors{Liquidity: 1, Stability: 1, Yield: 0, Concentration: 0, Momentum: 1}
	riskiest := Factors{Liquidity: 0, Stability: 0, Yield: 1, Concentration: 1, Momentum: 0}
	neutral := Factors{Liquidity: 0.5, Stability: 0.5, Yield: 0.5, Concentration: 0.5, Momentum: 0.5}

	assert.InDelta(t, 0, CalculateRiskScore(safest), 1e-9)
	assert.InDelta(t, 100, CalculateRiskScore(riskiest), 1e-9)
	assert.InDelta(t, 50, CalculateRiskScore(neutral), 1e-9)
}

func TestCalculateRiskScoreMonotonicity(t *testing.T) {
	base := Factors{Liquidity: 0.4, Stability: 0.4, Yield: 0.4, Concentration: 0.4, Momentum: 0.4}
	prev := CalculateRiskScore(base)

	for step := 0.5; step <= 1.0; step += 0.1 {
		f := base
		f.Liquidity = step
		assert.LessOrEqual(t, CalculateRiskScore(f), prev, "liquidity %.1f", step)

		f = base
		f.Stability = step
		assert.LessOrEqual(t, CalculateRiskScore(f), prev, "stability %.1f", step)

		f = base
		f.Concentration = step
		assert.GreaterOrEqual(t, CalculateRiskScore(f), prev, "concentration %.1f", step)
	}
}

func TestCalculateRiskScoreClampsOutOfRange(t *testing.T) {
	wild := Factors{Liquidity: 7, Stability: -3, Yield: 42, Concentration: -1, Momentum: 2}
	clamped := Factors{Liquidity: 1, Stability: 0, Yield: 1, Concentration: 0, Momentum: 1}
	assert.Equal(t, CalculateRiskScore(clamped), CalculateRiskScore(wild))

	nan := Factors{Liquidity: math.NaN(), Stability: 0.5, Yield: 0.5, Concentration: 0.5, Momentum: 0.5}
	assert.InDelta(t, 50, CalculateRiskScore(nan), 1e-9)
}

func TestCalculateRiskScoreDeterministic(t *testing.T) {
	f := Factors{Liquidity: 0.31, Stability: 0.77, Yield: 0.12, Concentration: 0.4, Momentum: 0.61}
	first := CalculateRiskScore(f)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, CalculateRiskScore(f))
	}
}

func TestGetRiskLevelBands(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{33.999, LevelLow},
		{LowRiskCutoff, LevelMedium},
		{50, LevelMedium},
		{66.999, LevelMedium},
		{HighRiskCutoff, LevelHigh},
		{100, LevelHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, GetRiskLevel(tc.score), "score %v", tc.score)
	}
}

func TestGetRiskLevelMonotonic(t *testing.T) {
	prev := GetRiskLevel(0)
	for score := 0.0; score <= 100; score += 0.25 {
		level := GetRiskLevel(score)
		require.GreaterOrEqual(t, level.Rank(), prev.Rank(), "score %v", score)
		prev = level
	}
	assert.Equal(t, LevelHigh, prev)
}

func TestCalculateVolatility(t *testing.T) {
	assert.Equal(t, 0.0, CalculateVolatility([]float64{100, 100, 100}))
	assert.Equal(t, 0.0, CalculateVolatility([]float64{100}))
	assert.Equal(t, 0.0, CalculateVolatility(nil))

	// returns +10%, -10% → mean 0, population stdev 0.1
	assert.InDelta(t, 0.1, CalculateVolatility([]float64{100, 110, 99}), 1e-12)
}

func TestCalculateVolatilitySkipsZeroPrice(t *testing.T) {
	// 0 → 50 has no defined return; remaining returns are +100% and +100%
	assert.InDelta(t, 0, CalculateVolatility([]float64{0, 50, 100, 200}), 1e-12)
	assert.Equal(t, 0.0, CalculateVolatility([]float64{0, 0}))
}

func TestCalculateSharpeRatio(t *testing.T) {
	assert.Equal(t, 0.0, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0))
	assert.Equal(t, 0.0, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0.002))
	assert.Equal(t, 0.0, CalculateSharpeRatio([]float64{0.05}, 0))
	assert.Equal(t, 0.0, CalculateSharpeRatio(nil, 0))

	// mean 0.02, population stdev 0.01
	got := CalculateSharpeRatio([]float64{0.01, 0.03}, 0)
	assert.InDelta(t, 2.0, got, 1e-9)

	got = CalculateSharpeRatio([]float64{0.01, 0.03}, 0.01)
	assert.InDelta(t, 1.0, got, 1e-9)
	assert.False(t, math.IsNaN(got))
}

func TestCalculateMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, CalculateMaxDrawdown([]float64{100, 120, 60, 90}), 1e-12)
	assert.Equal(t, 0.0, CalculateMaxDrawdown([]float64{100}))
	assert.Equal(t, 0.0, CalculateMaxDrawdown(nil))
	assert.Equal(t, 0.0, CalculateMaxDrawdown([]float64{1, 2, 3, 4}))
	assert.InDelta(t, 0.25, CalculateMaxDrawdown([]float64{100, 75, 200, 160}), 1e-12)
}

func TestDrawdownSeries(t *testing.T) {
	got := DrawdownSeries([]float64{100, 120, 60, 90})
	require.Len(t, got, 4)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5, 0.25}, got, 1e-12)
}

func TestAnnualizeVolatility(t *testing.T) {
	assert.InDelta(t, 0.01*math.Sqrt(365), AnnualizeVolatility(0.01, 365), 1e-12)
	assert.Equal(t, 0.02, AnnualizeVolatility(0.02, 0))
}
