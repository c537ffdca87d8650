package cost

import (
	"fmt"
	"math"
)

// Pricing holds per-model token rates in USD per million tokens. A rate in
// USD/MTok is numerically identical to micro-USD per token, which is what
// keeps Compute an exact integer expression.
type Pricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// DefaultPricing returns claude-sonnet rates.
func DefaultPricing() Pricing {
	return Pricing{InputPerMTok: 3.00, OutputPerMTok: 15.00}
}

// Calculator converts token usage into monetary cost. It is pure and
// deterministic: the same token counts always produce the same USD value.
type Calculator struct {
	pricing Pricing
}

// NewCalculator creates a Calculator with the given pricing.
func NewCalculator(pricing Pricing) *Calculator {
	return &Calculator{pricing: pricing}
}

// Compute returns the cost of a call that consumed tokensIn input tokens and
// produced tokensOut output tokens. Negative token counts are a programmer
// error and panic.
func (c *Calculator) Compute(tokensIn, tokensOut int) USD {
	if tokensIn < 0 || tokensOut < 0 {
		panic(fmt.Sprintf("cost: negative token count (in=%d out=%d)", tokensIn, tokensOut))
	}
	micro := math.Round(float64(tokensIn)*c.pricing.InputPerMTok + float64(tokensOut)*c.pricing.OutputPerMTok)
	return USD(micro)
}
