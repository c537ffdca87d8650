package model

import (
	"time"

	"github.com/sells-group/podcast-intel/internal/cost"
)

// Podcast identifies one configured feed.
type Podcast struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	RSSURL string `yaml:"rss_url" json:"rss_url"`
	Focus  string `yaml:"focus" json:"focus"`
	Active bool   `yaml:"active" json:"active"`
}

// EpisodeError records a single episode's failure within a run.
type EpisodeError struct {
	Episode EpisodeKey `json:"episode"`
	Title   string     `json:"title"`
	Err     string     `json:"error"`
}

// RunSummary is the sole output a pipeline run hands back to the caller.
// It is ephemeral: built in memory, reported, discarded.
type RunSummary struct {
	RunID            string         `json:"run_id"`
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration"`
	Fetched          int            `json:"fetched"`
	SkippedDuplicate int            `json:"skipped_duplicate"`
	SkippedBudget    int            `json:"skipped_budget"`
	Extracted        int            `json:"extracted"`
	Failed           int            `json:"failed"`
	TotalCost        cost.USD       `json:"total_cost_usd"`
	Canceled         bool           `json:"canceled,omitempty"`
	Errors           []EpisodeError `json:"errors,omitempty"`
}

// Outcomes returns the number of episodes that reached a terminal outcome.
func (s *RunSummary) Outcomes() int {
	return s.SkippedDuplicate + s.SkippedBudget + s.Extracted + s.Failed
}
