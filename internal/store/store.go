// Package store owns all durable state: episodes, intelligence records, and
// budget periods. Dedup and the atomic status+record commit are enforced here
// and nowhere else.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

var (
	// ErrNotFound is returned when an episode or record does not exist.
	ErrNotFound = eris.New("store: not found")

	// ErrAlreadyCommitted is returned when a commit is attempted for an
	// episode that already has an intelligence record. The existing record
	// is never overwritten.
	ErrAlreadyCommitted = eris.New("store: intelligence already committed")
)

// EpisodeFilter specifies criteria for listing episodes.
type EpisodeFilter struct {
	PodcastID string              `json:"podcast_id,omitempty"`
	Status    model.EpisodeStatus `json:"status,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
}

// Store is the persistence interface for the extraction pipeline.
type Store interface {
	// Episodes. RecordDiscovered inserts or is a no-op for a known identity;
	// it reports whether a row was inserted. AlreadyAttempted is the single
	// dedup check: true iff the episode holds or held a reservation
	// (admitted, extracted, or failed).
	RecordDiscovered(ctx context.Context, ep model.Episode) (bool, error)
	AlreadyAttempted(ctx context.Context, key model.EpisodeKey) (bool, error)
	SetStatus(ctx context.Context, key model.EpisodeKey, status model.EpisodeStatus) error
	IncrementAttempts(ctx context.Context, key model.EpisodeKey) error
	GetEpisode(ctx context.Context, key model.EpisodeKey) (*model.Episode, error)
	ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error)
	CountByStatus(ctx context.Context) (map[model.EpisodeStatus]int, error)

	// Intelligence. CommitExtraction writes the episode's transition to
	// extracted and its intelligence record in one transaction; committing
	// a second record for the same identity fails with ErrAlreadyCommitted.
	CommitExtraction(ctx context.Context, key model.EpisodeKey, intel *model.Intelligence) error
	GetIntelligence(ctx context.Context, key model.EpisodeKey) (*model.Intelligence, error)
	ListIntelligence(ctx context.Context, limit int) ([]model.Intelligence, error)
	SpendSince(ctx context.Context, since time.Time) (cost.USD, error)

	// Budget periods, for the ledger.
	GetBudgetPeriod(ctx context.Context, kind budget.PeriodKind, start time.Time) (*budget.Period, error)
	PutBudgetPeriod(ctx context.Context, p budget.Period) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// Ledger-facing subset check.
var _ budget.PeriodStore = (Store)(nil)
