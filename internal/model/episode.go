// Package model defines the core domain types shared across the pipeline.
package model

import (
	"fmt"
	"time"
)

// EpisodeStatus tracks where an episode is in the processing state machine.
type EpisodeStatus string

const (
	// StatusDiscovered means the episode was seen in a feed but not yet attempted.
	StatusDiscovered EpisodeStatus = "discovered"
	// StatusAdmitted means a budget reservation was granted and extraction started.
	StatusAdmitted EpisodeStatus = "admitted"
	// StatusExtracted is terminal: intelligence was extracted and persisted.
	StatusExtracted EpisodeStatus = "extracted"
	// StatusFailed is terminal: extraction or persistence failed after retries.
	StatusFailed EpisodeStatus = "failed"
	// StatusSkippedDuplicate is terminal: the episode was already attempted in a prior run.
	StatusSkippedDuplicate EpisodeStatus = "skipped_duplicate"
	// StatusSkippedBudget is terminal: the budget ledger rejected the reservation.
	StatusSkippedBudget EpisodeStatus = "skipped_budget"
)

// Attempted reports whether the status represents a prior processing attempt.
// Episodes left merely discovered by an aborted run may be retried; anything
// that held a reservation may not.
func (s EpisodeStatus) Attempted() bool {
	switch s {
	case StatusAdmitted, StatusExtracted, StatusFailed:
		return true
	default:
		return false
	}
}

// EpisodeKey is the durable identity of an episode: the feed's GUID scoped to
// a podcast.
type EpisodeKey struct {
	PodcastID string `json:"podcast_id"`
	GUID      string `json:"guid"`
}

func (k EpisodeKey) String() string {
	return fmt.Sprintf("%s/%s", k.PodcastID, k.GUID)
}

// Episode is a podcast episode as discovered from an RSS feed, plus its
// processing status. Rows are append-only: statuses advance, rows are never
// deleted, which is what keeps dedup correct across runs.
type Episode struct {
	PodcastID       string        `json:"podcast_id"`
	GUID            string        `json:"guid"`
	PodcastName     string        `json:"podcast_name"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	AudioURL        string        `json:"audio_url,omitempty"`
	EpisodeURL      string        `json:"episode_url,omitempty"`
	DurationMinutes int           `json:"duration_minutes,omitempty"`
	PublishedAt     time.Time     `json:"published_at"`
	Status          EpisodeStatus `json:"status"`
	Attempts        int           `json:"attempts"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Key returns the episode's durable identity.
func (e Episode) Key() EpisodeKey {
	return EpisodeKey{PodcastID: e.PodcastID, GUID: e.GUID}
}
