package model

import (
	"time"

	"github.com/sells-group/podcast-intel/internal/cost"
)

// Intelligence is the structured extraction produced from one episode. It
// exists if and only if its episode reached StatusExtracted; the two are
// written in the same transaction.
//
// The json tags on the content fields match the keys the extraction prompt
// asks the model to emit, so a response can be unmarshaled directly.
type Intelligence struct {
	ID         string     `json:"id"`
	Episode    EpisodeKey `json:"episode"`
	EpisodeURL string     `json:"episode_url,omitempty"`

	// Executive level.
	HeadlineTakeaway string `json:"headline_takeaway"`
	ExecutiveSummary string `json:"executive_summary"`
	BottomLine       string `json:"bottom_line"`

	// Strategic.
	StrategicImplications []string `json:"strategic_implications"`
	RiskFactors           []string `json:"risk_factors"`
	QuantifiedImpact      []string `json:"quantified_impact"`

	// Technical.
	TechnicalDevelopments []string `json:"technical_developments"`
	Predictions           []string `json:"predictions"`

	// Market.
	MarketDynamics     []string `json:"market_dynamics"`
	CompaniesMentioned []string `json:"companies_mentioned"`
	KeyPeople          []string `json:"key_people"`

	// Actionable.
	ActionableInsights []string `json:"actionable_insights"`

	ImportanceScore int    `json:"importance_score"`
	GuestExpertise  string `json:"guest_expertise"`

	// ParsingError marks a record built from an unparseable model response:
	// the raw text is preserved in ExecutiveSummary for later review.
	ParsingError bool `json:"parsing_error,omitempty"`

	// Accounting.
	TokensIn           int           `json:"tokens_in"`
	TokensOut          int           `json:"tokens_out"`
	CostUSD            cost.USD      `json:"cost_usd"`
	ExtractionDuration time.Duration `json:"extraction_duration"`
	Model              string        `json:"model"`
	ExtractedAt        time.Time     `json:"extracted_at"`
}

// HighImportance reports whether the record scored 8 or above.
func (i *Intelligence) HighImportance() bool {
	return i.ImportanceScore >= 8
}
