package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/podcast-intel/internal/model"
)

func TestParseResponse_CleanJSON(t *testing.T) {
	intel := ParseResponse(validResponse, "Title")
	assert.Equal(t, "GPUs are the new rails.", intel.HeadlineTakeaway)
	assert.Equal(t, []string{"Own the supply chain"}, intel.StrategicImplications)
	assert.False(t, intel.ParsingError)
}

func TestParseResponse_StripsFences(t *testing.T) {
	tests := []string{
		"```json\n" + validResponse + "\n```",
		"```\n" + validResponse + "\n```",
		"  \n```json\n" + validResponse + "\n```\n  ",
	}
	for _, in := range tests {
		intel := ParseResponse(in, "Title")
		assert.False(t, intel.ParsingError)
		assert.Equal(t, 9, intel.ImportanceScore)
	}
}

func TestParseResponse_FallbackTruncatesRaw(t *testing.T) {
	raw := strings.Repeat("x", 2000)
	intel := ParseResponse(raw, "Long Episode")

	assert.True(t, intel.ParsingError)
	assert.Equal(t, "[Parsing Error] Long Episode", intel.HeadlineTakeaway)
	assert.Len(t, intel.ExecutiveSummary, 800)
	assert.Equal(t, 5, intel.ImportanceScore)
}

func TestParseResponse_EmptyText(t *testing.T) {
	intel := ParseResponse("", "Empty")
	assert.True(t, intel.ParsingError)
}

func TestBuildPrompt_TruncatesContent(t *testing.T) {
	ep := model.Episode{
		PodcastName: "Show",
		Title:       "Ep",
		Description: strings.Repeat("a", 10000),
	}
	prompt := BuildPrompt(ep, "technical")
	assert.Contains(t, prompt, strings.Repeat("a", 4500))
	assert.NotContains(t, prompt, strings.Repeat("a", 4501))
	assert.Contains(t, prompt, "Focus Area: technical")
}
