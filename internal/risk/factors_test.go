package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveFactors(t *testing.T) {
	f := DeriveFactors(FactorInputs{
		Values:     []float64{100, 110, 120},
		TVL:        []float64{1_000_000, 800_000, 1_000_000},
		LatestAPY:  25,
		Volatility: 0.01,
	})

	assert.InDelta(t, 6.0/9.0, f.Liquidity, 1e-9)
	assert.InDelta(t, 0.8, f.Stability, 1e-9)
	assert.InDelta(t, 0.25, f.Yield, 1e-9)
	assert.InDelta(t, 0.2, f.Concentration, 1e-9)
	assert.InDelta(t, 0.6, f.Momentum, 1e-9)
}

func TestDeriveFactorsDegenerateInputs(t *testing.T) {
	f := DeriveFactors(FactorInputs{})
	assert.Equal(t, Factors{Liquidity: 0, Stability: 1, Yield: 0, Concentration: 0, Momentum: 0.5}, f)

	f = DeriveFactors(FactorInputs{Volatility: 1, LatestAPY: 500, Values: []float64{10, 100}})
	assert.Equal(t, 0.0, f.Stability)
	assert.Equal(t, 1.0, f.Yield)
	assert.Equal(t, 1.0, f.Momentum)
}
