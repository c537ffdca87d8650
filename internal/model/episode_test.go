package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpisodeStatus_Attempted(t *testing.T) {
	cases := []struct {
		status EpisodeStatus
		want   bool
	}{
		{StatusDiscovered, false},
		{StatusAdmitted, true},
		{StatusExtracted, true},
		{StatusFailed, true},
		{StatusSkippedDuplicate, false},
		{StatusSkippedBudget, false},
		{EpisodeStatus("bogus"), false},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.status.Attempted())
		})
	}
}

func TestEpisodeKey_String(t *testing.T) {
	k := EpisodeKey{PodcastID: "showtime", GUID: "ep-42"}
	assert.Equal(t, "showtime/ep-42", k.String())
}

func TestEpisode_Key(t *testing.T) {
	ep := Episode{PodcastID: "showtime", GUID: "ep-42", Title: "irrelevant"}
	assert.Equal(t, EpisodeKey{PodcastID: "showtime", GUID: "ep-42"}, ep.Key())
}

func TestIntelligence_HighImportance(t *testing.T) {
	assert.False(t, (&Intelligence{ImportanceScore: 7}).HighImportance())
	assert.True(t, (&Intelligence{ImportanceScore: 8}).HighImportance())
}

func TestRunSummary_Outcomes(t *testing.T) {
	s := &RunSummary{SkippedDuplicate: 1, SkippedBudget: 2, Extracted: 3, Failed: 4}
	assert.Equal(t, 10, s.Outcomes())
}
