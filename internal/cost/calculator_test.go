package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Pricing{InputPerMTok: 3.00, OutputPerMTok: 15.00})

	tests := []struct {
		name      string
		tokensIn  int
		tokensOut int
		want      USD
	}{
		{"zero tokens", 0, 0, 0},
		{"spec example", 1000, 500, 10500}, // $0.010500 exactly
		{"input only", 1000000, 0, 3000000},
		{"output only", 0, 1000000, 15000000},
		{"single token rounds", 1, 1, 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Compute(tt.tokensIn, tt.tokensOut)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Pricing{InputPerMTok: 3.00, OutputPerMTok: 15.00})

	first := calc.Compute(1000, 500)
	assert.Equal(t, "$0.010500", first.String())
	for i := 0; i < 1000; i++ {
		assert.Equal(t, first, calc.Compute(1000, 500))
	}
}

func TestCompute_NegativeTokensPanics(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(DefaultPricing())

	assert.Panics(t, func() { calc.Compute(-1, 0) })
	assert.Panics(t, func() { calc.Compute(0, -1) })
}

func TestCompute_NoAccumulationDrift(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Pricing{InputPerMTok: 3.00, OutputPerMTok: 15.00})

	// Summing hundreds of per-episode costs must equal one bulk computation.
	var total USD
	for i := 0; i < 700; i++ {
		total += calc.Compute(1000, 500)
	}
	assert.Equal(t, USD(700*10500), total)
}

func TestUSD_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount USD
		want   string
	}{
		{0, "$0.000000"},
		{10500, "$0.010500"},
		{1000000, "$1.000000"},
		{-250000, "-$0.250000"},
		{5400000, "$5.400000"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.amount.String())
	}
}

func TestUSD_FloatRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, USD(400000), FromFloat(0.40))
	assert.Equal(t, USD(1000000), FromFloat(1.00))
	assert.InDelta(t, 0.40, USD(400000).Float64(), 1e-9)
}
