package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS episodes (
	podcast_id       TEXT NOT NULL,
	guid             TEXT NOT NULL,
	podcast_name     TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	audio_url        TEXT NOT NULL DEFAULT '',
	episode_url      TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	published_at     DATETIME,
	status           TEXT NOT NULL DEFAULT 'discovered',
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (podcast_id, guid)
);

CREATE TABLE IF NOT EXISTS intelligence (
	id                TEXT PRIMARY KEY,
	podcast_id        TEXT NOT NULL,
	guid              TEXT NOT NULL,
	episode_url       TEXT NOT NULL DEFAULT '',
	headline_takeaway TEXT NOT NULL DEFAULT '',
	executive_summary TEXT NOT NULL DEFAULT '',
	bottom_line       TEXT NOT NULL DEFAULT '',
	sections          TEXT NOT NULL DEFAULT '{}',
	importance_score  INTEGER NOT NULL DEFAULT 0,
	guest_expertise   TEXT NOT NULL DEFAULT '',
	parsing_error     INTEGER NOT NULL DEFAULT 0,
	tokens_in         INTEGER NOT NULL DEFAULT 0,
	tokens_out        INTEGER NOT NULL DEFAULT 0,
	cost_micro_usd    INTEGER NOT NULL DEFAULT 0,
	extraction_ms     INTEGER NOT NULL DEFAULT 0,
	model             TEXT NOT NULL DEFAULT '',
	extracted_at      DATETIME NOT NULL,
	UNIQUE (podcast_id, guid)
);

CREATE TABLE IF NOT EXISTS budget_periods (
	kind         TEXT NOT NULL,
	period_start TEXT NOT NULL,
	spent_micro  INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, period_start)
);

CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
CREATE INDEX IF NOT EXISTS idx_episodes_published_at ON episodes(published_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_extracted_at ON intelligence(extracted_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_importance ON intelligence(importance_score);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordDiscovered(ctx context.Context, ep model.Episode) (bool, error) {
	now := time.Now().UTC()
	status := ep.Status
	if status == "" {
		status = model.StatusDiscovered
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes
		 (podcast_id, guid, podcast_name, title, description, audio_url, episode_url,
		  duration_minutes, published_at, status, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (podcast_id, guid) DO NOTHING`,
		ep.PodcastID, ep.GUID, ep.PodcastName, ep.Title, ep.Description,
		ep.AudioURL, ep.EpisodeURL, ep.DurationMinutes, nullableTime(ep.PublishedAt),
		string(status), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record episode %s/%s", ep.PodcastID, ep.GUID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) AlreadyAttempted(ctx context.Context, key model.EpisodeKey) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status FROM episodes WHERE podcast_id = ? AND guid = ?`,
		key.PodcastID, key.GUID,
	)
	var status string
	err := row.Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: already attempted")
	}
	return model.EpisodeStatus(status).Attempted(), nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, key model.EpisodeKey, status model.EpisodeStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET status = ?, updated_at = ? WHERE podcast_id = ? AND guid = ?`,
		string(status), time.Now().UTC(), key.PodcastID, key.GUID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set status %s/%s", key.PodcastID, key.GUID)
	}
	return checkRowsAffected(res, "episode", key.String())
}

func (s *SQLiteStore) IncrementAttempts(ctx context.Context, key model.EpisodeKey) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET attempts = attempts + 1, updated_at = ? WHERE podcast_id = ? AND guid = ?`,
		time.Now().UTC(), key.PodcastID, key.GUID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment attempts %s/%s", key.PodcastID, key.GUID)
	}
	return checkRowsAffected(res, "episode", key.String())
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, key model.EpisodeKey) (*model.Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT podcast_id, guid, podcast_name, title, description, audio_url, episode_url,
		        duration_minutes, published_at, status, attempts, created_at, updated_at
		 FROM episodes WHERE podcast_id = ? AND guid = ?`,
		key.PodcastID, key.GUID,
	)
	return scanEpisode(row)
}

func (s *SQLiteStore) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error) {
	query := `SELECT podcast_id, guid, podcast_name, title, description, audio_url, episode_url,
	                 duration_minutes, published_at, status, attempts, created_at, updated_at
	          FROM episodes WHERE 1=1`
	var args []any

	if filter.PodcastID != "" {
		query += ` AND podcast_id = ?`
		args = append(args, filter.PodcastID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY published_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list episodes")
	}
	defer rows.Close()

	var eps []model.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, *ep)
	}
	return eps, eris.Wrap(rows.Err(), "sqlite: list episodes iterate")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.EpisodeStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM episodes GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.EpisodeStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.EpisodeStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

// CommitExtraction writes the status transition and the intelligence record in
// one transaction, so a crash can never leave one without the other.
func (s *SQLiteStore) CommitExtraction(ctx context.Context, key model.EpisodeKey, intel *model.Intelligence) error {
	if intel.ID == "" {
		intel.ID = uuid.New().String()
	}
	sectionsJSON, err := json.Marshal(sectionsOf(intel))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sections")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE episodes SET status = ?, updated_at = ? WHERE podcast_id = ? AND guid = ?`,
		string(model.StatusExtracted), time.Now().UTC(), key.PodcastID, key.GUID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark extracted %s/%s", key.PodcastID, key.GUID)
	}
	if err := checkRowsAffected(res, "episode", key.String()); err != nil {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO intelligence
		 (id, podcast_id, guid, episode_url, headline_takeaway, executive_summary, bottom_line,
		  sections, importance_score, guest_expertise, parsing_error,
		  tokens_in, tokens_out, cost_micro_usd, extraction_ms, model, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intel.ID, key.PodcastID, key.GUID, intel.EpisodeURL,
		intel.HeadlineTakeaway, intel.ExecutiveSummary, intel.BottomLine,
		string(sectionsJSON), intel.ImportanceScore, intel.GuestExpertise, boolToInt(intel.ParsingError),
		intel.TokensIn, intel.TokensOut, int64(intel.CostUSD),
		intel.ExtractionDuration.Milliseconds(), intel.Model, intel.ExtractedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyCommitted
		}
		return eris.Wrapf(err, "sqlite: insert intelligence %s/%s", key.PodcastID, key.GUID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit extraction")
}

func (s *SQLiteStore) GetIntelligence(ctx context.Context, key model.EpisodeKey) (*model.Intelligence, error) {
	row := s.db.QueryRowContext(ctx,
		intelSelect+` WHERE podcast_id = ? AND guid = ?`,
		key.PodcastID, key.GUID,
	)
	return scanIntelligence(row)
}

func (s *SQLiteStore) ListIntelligence(ctx context.Context, limit int) ([]model.Intelligence, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		intelSelect+` ORDER BY extracted_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list intelligence")
	}
	defer rows.Close()

	var recs []model.Intelligence
	for rows.Next() {
		rec, err := scanIntelligence(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list intelligence iterate")
}

func (s *SQLiteStore) SpendSince(ctx context.Context, since time.Time) (cost.USD, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_micro_usd), 0) FROM intelligence WHERE extracted_at >= ?`,
		since.UTC(),
	)
	var micro int64
	if err := row.Scan(&micro); err != nil {
		return 0, eris.Wrap(err, "sqlite: spend since")
	}
	return cost.USD(micro), nil
}

func (s *SQLiteStore) GetBudgetPeriod(ctx context.Context, kind budget.PeriodKind, start time.Time) (*budget.Period, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT spent_micro FROM budget_periods WHERE kind = ? AND period_start = ?`,
		string(kind), start.UTC().Format(time.RFC3339),
	)
	var micro int64
	err := row.Scan(&micro)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get budget period")
	}
	return &budget.Period{Kind: kind, Start: start.UTC(), Spent: cost.USD(micro)}, nil
}

func (s *SQLiteStore) PutBudgetPeriod(ctx context.Context, p budget.Period) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_periods (kind, period_start, spent_micro, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, period_start) DO UPDATE SET spent_micro = excluded.spent_micro, updated_at = excluded.updated_at`,
		string(p.Kind), p.Start.UTC().Format(time.RFC3339), int64(p.Spent), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put budget period %s", p.Kind)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEpisode(row scannable) (*model.Episode, error) {
	var ep model.Episode
	var status string
	var published sql.NullTime

	err := row.Scan(&ep.PodcastID, &ep.GUID, &ep.PodcastName, &ep.Title, &ep.Description,
		&ep.AudioURL, &ep.EpisodeURL, &ep.DurationMinutes, &published,
		&status, &ep.Attempts, &ep.CreatedAt, &ep.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan episode")
	}
	ep.Status = model.EpisodeStatus(status)
	if published.Valid {
		ep.PublishedAt = published.Time.UTC()
	}
	return &ep, nil
}

const intelSelect = `SELECT id, podcast_id, guid, episode_url, headline_takeaway,
	executive_summary, bottom_line, sections, importance_score, guest_expertise,
	parsing_error, tokens_in, tokens_out, cost_micro_usd, extraction_ms, model, extracted_at
	FROM intelligence`

// intelSections is the JSON blob holding the list-valued content fields.
type intelSections struct {
	StrategicImplications []string `json:"strategic_implications,omitempty"`
	RiskFactors           []string `json:"risk_factors,omitempty"`
	QuantifiedImpact      []string `json:"quantified_impact,omitempty"`
	TechnicalDevelopments []string `json:"technical_developments,omitempty"`
	Predictions           []string `json:"predictions,omitempty"`
	MarketDynamics        []string `json:"market_dynamics,omitempty"`
	CompaniesMentioned    []string `json:"companies_mentioned,omitempty"`
	KeyPeople             []string `json:"key_people,omitempty"`
	ActionableInsights    []string `json:"actionable_insights,omitempty"`
}

func sectionsOf(intel *model.Intelligence) intelSections {
	return intelSections{
		StrategicImplications: intel.StrategicImplications,
		RiskFactors:           intel.RiskFactors,
		QuantifiedImpact:      intel.QuantifiedImpact,
		TechnicalDevelopments: intel.TechnicalDevelopments,
		Predictions:           intel.Predictions,
		MarketDynamics:        intel.MarketDynamics,
		CompaniesMentioned:    intel.CompaniesMentioned,
		KeyPeople:             intel.KeyPeople,
		ActionableInsights:    intel.ActionableInsights,
	}
}

func applySections(intel *model.Intelligence, sec intelSections) {
	intel.StrategicImplications = sec.StrategicImplications
	intel.RiskFactors = sec.RiskFactors
	intel.QuantifiedImpact = sec.QuantifiedImpact
	intel.TechnicalDevelopments = sec.TechnicalDevelopments
	intel.Predictions = sec.Predictions
	intel.MarketDynamics = sec.MarketDynamics
	intel.CompaniesMentioned = sec.CompaniesMentioned
	intel.KeyPeople = sec.KeyPeople
	intel.ActionableInsights = sec.ActionableInsights
}

func scanIntelligence(row scannable) (*model.Intelligence, error) {
	var rec model.Intelligence
	var sectionsJSON string
	var parsingError int
	var micro, extractionMS int64

	err := row.Scan(&rec.ID, &rec.Episode.PodcastID, &rec.Episode.GUID, &rec.EpisodeURL,
		&rec.HeadlineTakeaway, &rec.ExecutiveSummary, &rec.BottomLine,
		&sectionsJSON, &rec.ImportanceScore, &rec.GuestExpertise, &parsingError,
		&rec.TokensIn, &rec.TokensOut, &micro, &extractionMS, &rec.Model, &rec.ExtractedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan intelligence")
	}

	var sec intelSections
	if err := json.Unmarshal([]byte(sectionsJSON), &sec); err != nil {
		return nil, eris.Wrap(err, "unmarshal intelligence sections")
	}
	applySections(&rec, sec)
	rec.ParsingError = parsingError != 0
	rec.CostUSD = cost.USD(micro)
	rec.ExtractionDuration = time.Duration(extractionMS) * time.Millisecond
	return &rec, nil
}
