package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

func TestConservativeEstimator(t *testing.T) {
	calc := cost.NewCalculator(cost.DefaultPricing())
	est := NewConservativeEstimator(calc, 3500)

	cases := []struct {
		name        string
		description string
		want        cost.USD
	}{
		{
			// ceil(4000/4) + 700 = 1700 input tokens.
			name:        "typical description",
			description: strings.Repeat("x", 4000),
			want:        calc.Compute(1700, 3500),
		},
		{
			// Content beyond the truncation cap costs nothing extra.
			name:        "long description capped",
			description: strings.Repeat("x", 100_000),
			want:        calc.Compute(1125+700, 3500),
		},
		{
			name:        "empty description still pays prompt overhead",
			description: "",
			want:        calc.Compute(700, 3500),
		},
		{
			// ceil(5/4) = 2.
			name:        "rounding up",
			description: "abcde",
			want:        calc.Compute(702, 3500),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := est.Estimate(model.Episode{Description: tc.description})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConservativeEstimator_NeverUndershoots(t *testing.T) {
	calc := cost.NewCalculator(cost.DefaultPricing())
	est := NewConservativeEstimator(calc, 3500)

	// The estimate prices the full output budget, so it always exceeds the
	// actual cost of any response that fits within it.
	estimate := est.Estimate(model.Episode{Description: strings.Repeat("x", 4500)})
	actual := calc.Compute(1825, 2000)
	assert.Greater(t, estimate, actual)
}

func TestConservativeEstimator_DefaultOutputBudget(t *testing.T) {
	calc := cost.NewCalculator(cost.DefaultPricing())
	est := NewConservativeEstimator(calc, 0)
	assert.Equal(t, calc.Compute(700, 3500), est.Estimate(model.Episode{}))
}
