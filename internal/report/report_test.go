package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

func TestWriteSummary(t *testing.T) {
	s := &model.RunSummary{
		RunID:            "run-123",
		Duration:         90 * time.Second,
		Fetched:          10,
		Extracted:        6,
		SkippedDuplicate: 2,
		SkippedBudget:    1,
		Failed:           1,
		TotalCost:        cost.FromFloat(0.42),
		Errors: []model.EpisodeError{
			{Episode: model.EpisodeKey{PodcastID: "p1", GUID: "g1"}, Title: "Bad Episode", Err: "timeout"},
		},
	}

	var b strings.Builder
	WriteSummary(&b, s)
	out := b.String()

	assert.Contains(t, out, "Run run-123 completed in 1m30s")
	assert.Contains(t, out, "Fetched:")
	assert.Contains(t, out, "$0.420000")
	assert.Contains(t, out, "Errors (1):")
	assert.Contains(t, out, "Bad Episode: timeout")
}

func TestWriteSummary_Canceled(t *testing.T) {
	var b strings.Builder
	WriteSummary(&b, &model.RunSummary{RunID: "r", Canceled: true})
	assert.Contains(t, b.String(), "canceled")
}

func TestWriteSummary_ErrorWithoutTitleUsesKey(t *testing.T) {
	s := &model.RunSummary{
		RunID:  "r",
		Errors: []model.EpisodeError{{Episode: model.EpisodeKey{PodcastID: "pod", GUID: "ep"}, Err: "boom"}},
	}
	var b strings.Builder
	WriteSummary(&b, s)
	assert.Contains(t, b.String(), "pod/ep: boom")
}

func TestWriteEpisodes(t *testing.T) {
	eps := []model.Episode{
		{
			PodcastName: "Showtime",
			Title:       "A Very Long Episode Title That Goes On And On Forever And Ever",
			PublishedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Status:      model.StatusExtracted,
			Attempts:    1,
		},
		{PodcastName: "Other", Title: "Short", Status: model.StatusDiscovered},
	}

	var b strings.Builder
	WriteEpisodes(&b, eps)
	out := b.String()

	assert.Contains(t, out, "PODCAST")
	assert.Contains(t, out, "Showtime")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "Forever And Ever")
	assert.Contains(t, out, "2026-03-01")
	assert.Contains(t, out, "extracted")
}

func TestWriteIntelligence(t *testing.T) {
	recs := []model.Intelligence{
		{
			Episode:          model.EpisodeKey{PodcastID: "p", GUID: "g"},
			HeadlineTakeaway: "Rates are going up",
			ImportanceScore:  8,
			CostUSD:          cost.FromFloat(0.0105),
		},
		{
			Episode:      model.EpisodeKey{PodcastID: "p", GUID: "g2"},
			ParsingError: true,
		},
	}

	var b strings.Builder
	WriteIntelligence(&b, recs)
	out := b.String()

	assert.Contains(t, out, "p/g (importance 8, $0.010500)")
	assert.Contains(t, out, "Rates are going up")
	assert.Contains(t, out, "did not parse cleanly")
}
