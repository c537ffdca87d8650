package pipeline

import (
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

// Estimator predicts the prospective cost of extracting one episode, before
// the call is made. Estimates feed budget reservations, so they should err
// high: the ledger adjusts down to the actual figure afterwards.
type Estimator interface {
	Estimate(ep model.Episode) cost.USD
}

// promptOverheadTokens covers the prompt template and message framing on top
// of the episode content itself.
const promptOverheadTokens = 700

// contentCapBytes mirrors the truncation the extraction prompt applies.
const contentCapBytes = 4500

// ConservativeEstimator assumes roughly four bytes per token for the input
// and a full output budget, which upper-bounds the real cost of a call.
type ConservativeEstimator struct {
	calc            *cost.Calculator
	maxOutputTokens int
}

// NewConservativeEstimator creates an estimator priced by calc, assuming the
// engine may spend up to maxOutputTokens per call.
func NewConservativeEstimator(calc *cost.Calculator, maxOutputTokens int) *ConservativeEstimator {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 3500
	}
	return &ConservativeEstimator{calc: calc, maxOutputTokens: maxOutputTokens}
}

func (e *ConservativeEstimator) Estimate(ep model.Episode) cost.USD {
	contentBytes := len(ep.Description)
	if contentBytes > contentCapBytes {
		contentBytes = contentCapBytes
	}
	tokensIn := (contentBytes+3)/4 + promptOverheadTokens
	return e.calc.Compute(tokensIn, e.maxOutputTokens)
}
