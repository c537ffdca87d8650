package extract

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/podcast-intel/internal/model"
)

const fallbackSummaryChars = 800

// fallbackImportance is the neutral score assigned when a response cannot be
// parsed and no real score is available.
const fallbackImportance = 5

// ParseResponse turns the model's response text into an intelligence record.
// The model is asked for bare JSON but sometimes wraps it in a markdown code
// block, so fences are stripped first. An unparseable response never loses
// the extraction: it becomes a fallback record carrying the raw text, marked
// with ParsingError for later review.
func ParseResponse(text, episodeTitle string) *model.Intelligence {
	cleaned := stripCodeFences(text)

	var intel model.Intelligence
	if err := json.Unmarshal([]byte(cleaned), &intel); err != nil {
		zap.L().Error("extract: unparseable response",
			zap.String("episode", episodeTitle),
			zap.Error(err),
		)
		return fallbackRecord(text, episodeTitle)
	}

	if intel.HeadlineTakeaway == "" || intel.ExecutiveSummary == "" || intel.ImportanceScore == 0 {
		zap.L().Warn("extract: response missing required fields",
			zap.String("episode", episodeTitle),
		)
	}
	return &intel
}

func stripCodeFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if _, rest, found := strings.Cut(cleaned, "\n"); found {
			cleaned = rest
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
	}
	return strings.TrimSpace(cleaned)
}

func fallbackRecord(raw, episodeTitle string) *model.Intelligence {
	summary := raw
	if len(summary) > fallbackSummaryChars {
		summary = summary[:fallbackSummaryChars]
	}
	return &model.Intelligence{
		HeadlineTakeaway: "[Parsing Error] " + episodeTitle,
		ExecutiveSummary: summary,
		ImportanceScore:  fallbackImportance,
		ParsingError:     true,
	}
}
