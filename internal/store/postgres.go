package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock's pool mock
// satisfies it too, which is what the tests run against.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Test use.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS episodes (
	podcast_id       TEXT NOT NULL,
	guid             TEXT NOT NULL,
	podcast_name     TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	audio_url        TEXT NOT NULL DEFAULT '',
	episode_url      TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	published_at     TIMESTAMPTZ,
	status           TEXT NOT NULL DEFAULT 'discovered',
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (podcast_id, guid)
);

CREATE TABLE IF NOT EXISTS intelligence (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	podcast_id        TEXT NOT NULL,
	guid              TEXT NOT NULL,
	episode_url       TEXT NOT NULL DEFAULT '',
	headline_takeaway TEXT NOT NULL DEFAULT '',
	executive_summary TEXT NOT NULL DEFAULT '',
	bottom_line       TEXT NOT NULL DEFAULT '',
	sections          JSONB NOT NULL DEFAULT '{}',
	importance_score  INTEGER NOT NULL DEFAULT 0,
	guest_expertise   TEXT NOT NULL DEFAULT '',
	parsing_error     BOOLEAN NOT NULL DEFAULT false,
	tokens_in         INTEGER NOT NULL DEFAULT 0,
	tokens_out        INTEGER NOT NULL DEFAULT 0,
	cost_micro_usd    BIGINT NOT NULL DEFAULT 0,
	extraction_ms     BIGINT NOT NULL DEFAULT 0,
	model             TEXT NOT NULL DEFAULT '',
	extracted_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (podcast_id, guid)
);

CREATE TABLE IF NOT EXISTS budget_periods (
	kind         TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	spent_micro  BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, period_start)
);

CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
CREATE INDEX IF NOT EXISTS idx_episodes_published_at ON episodes(published_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_extracted_at ON intelligence(extracted_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_importance ON intelligence(importance_score);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordDiscovered(ctx context.Context, ep model.Episode) (bool, error) {
	now := time.Now().UTC()
	status := ep.Status
	if status == "" {
		status = model.StatusDiscovered
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO episodes
		 (podcast_id, guid, podcast_name, title, description, audio_url, episode_url,
		  duration_minutes, published_at, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12)
		 ON CONFLICT (podcast_id, guid) DO NOTHING`,
		ep.PodcastID, ep.GUID, ep.PodcastName, ep.Title, ep.Description,
		ep.AudioURL, ep.EpisodeURL, ep.DurationMinutes, nullableTime(ep.PublishedAt),
		string(status), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record episode %s/%s", ep.PodcastID, ep.GUID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AlreadyAttempted(ctx context.Context, key model.EpisodeKey) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM episodes WHERE podcast_id = $1 AND guid = $2`,
		key.PodcastID, key.GUID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: already attempted")
	}
	return model.EpisodeStatus(status).Attempted(), nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, key model.EpisodeKey, status model.EpisodeStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE episodes SET status = $1, updated_at = $2 WHERE podcast_id = $3 AND guid = $4`,
		string(status), time.Now().UTC(), key.PodcastID, key.GUID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set status %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("episode not found: %s", key)
	}
	return nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, key model.EpisodeKey) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE episodes SET attempts = attempts + 1, updated_at = $1 WHERE podcast_id = $2 AND guid = $3`,
		time.Now().UTC(), key.PodcastID, key.GUID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment attempts %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("episode not found: %s", key)
	}
	return nil
}

const episodeColumns = `podcast_id, guid, podcast_name, title, description, audio_url, episode_url,
	duration_minutes, published_at, status, attempts, created_at, updated_at`

func (s *PostgresStore) GetEpisode(ctx context.Context, key model.EpisodeKey) (*model.Episode, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE podcast_id = $1 AND guid = $2`,
		key.PodcastID, key.GUID,
	)
	ep, err := scanEpisodePg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get episode %s", key)
	}
	return ep, nil
}

func (s *PostgresStore) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE true`
	args := []any{}
	argIdx := 1

	if filter.PodcastID != "" {
		query += fmt.Sprintf(` AND podcast_id = $%d`, argIdx)
		args = append(args, filter.PodcastID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY published_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list episodes")
	}
	defer rows.Close()

	var eps []model.Episode
	for rows.Next() {
		ep, err := scanEpisodePg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan episode")
		}
		eps = append(eps, *ep)
	}
	return eps, eris.Wrap(rows.Err(), "postgres: list episodes iterate")
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.EpisodeStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM episodes GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.EpisodeStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.EpisodeStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

// CommitExtraction writes the status transition and the intelligence record in
// one transaction. A unique violation on (podcast_id, guid) means a record
// already exists and surfaces as ErrAlreadyCommitted.
func (s *PostgresStore) CommitExtraction(ctx context.Context, key model.EpisodeKey, intel *model.Intelligence) error {
	if intel.ID == "" {
		intel.ID = uuid.New().String()
	}
	sectionsJSON, err := json.Marshal(sectionsOf(intel))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sections")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE episodes SET status = $1, updated_at = $2 WHERE podcast_id = $3 AND guid = $4`,
		string(model.StatusExtracted), time.Now().UTC(), key.PodcastID, key.GUID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark extracted %s", key)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO intelligence
		 (id, podcast_id, guid, episode_url, headline_takeaway, executive_summary, bottom_line,
		  sections, importance_score, guest_expertise, parsing_error,
		  tokens_in, tokens_out, cost_micro_usd, extraction_ms, model, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		intel.ID, key.PodcastID, key.GUID, intel.EpisodeURL,
		intel.HeadlineTakeaway, intel.ExecutiveSummary, intel.BottomLine,
		sectionsJSON, intel.ImportanceScore, intel.GuestExpertise, intel.ParsingError,
		intel.TokensIn, intel.TokensOut, int64(intel.CostUSD),
		intel.ExtractionDuration.Milliseconds(), intel.Model, intel.ExtractedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyCommitted
		}
		return eris.Wrapf(err, "postgres: insert intelligence %s", key)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit extraction")
}

const intelColumnsPg = `id, podcast_id, guid, episode_url, headline_takeaway,
	executive_summary, bottom_line, sections, importance_score, guest_expertise,
	parsing_error, tokens_in, tokens_out, cost_micro_usd, extraction_ms, model, extracted_at`

func (s *PostgresStore) GetIntelligence(ctx context.Context, key model.EpisodeKey) (*model.Intelligence, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intelColumnsPg+` FROM intelligence WHERE podcast_id = $1 AND guid = $2`,
		key.PodcastID, key.GUID,
	)
	rec, err := scanIntelligencePg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get intelligence %s", key)
	}
	return rec, nil
}

func (s *PostgresStore) ListIntelligence(ctx context.Context, limit int) ([]model.Intelligence, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+intelColumnsPg+` FROM intelligence ORDER BY extracted_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list intelligence")
	}
	defer rows.Close()

	var recs []model.Intelligence
	for rows.Next() {
		rec, err := scanIntelligencePg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan intelligence")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list intelligence iterate")
}

func (s *PostgresStore) SpendSince(ctx context.Context, since time.Time) (cost.USD, error) {
	var micro int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_micro_usd), 0) FROM intelligence WHERE extracted_at >= $1`,
		since.UTC(),
	).Scan(&micro)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: spend since")
	}
	return cost.USD(micro), nil
}

func (s *PostgresStore) GetBudgetPeriod(ctx context.Context, kind budget.PeriodKind, start time.Time) (*budget.Period, error) {
	var micro int64
	err := s.pool.QueryRow(ctx,
		`SELECT spent_micro FROM budget_periods WHERE kind = $1 AND period_start = $2`,
		string(kind), start.UTC(),
	).Scan(&micro)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get budget period")
	}
	return &budget.Period{Kind: kind, Start: start.UTC(), Spent: cost.USD(micro)}, nil
}

func (s *PostgresStore) PutBudgetPeriod(ctx context.Context, p budget.Period) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO budget_periods (kind, period_start, spent_micro, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, period_start) DO UPDATE SET spent_micro = $3, updated_at = $4`,
		string(p.Kind), p.Start.UTC(), int64(p.Spent), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put budget period %s", p.Kind)
}

func scanEpisodePg(row pgx.Row) (*model.Episode, error) {
	var ep model.Episode
	var status string
	var published *time.Time

	err := row.Scan(&ep.PodcastID, &ep.GUID, &ep.PodcastName, &ep.Title, &ep.Description,
		&ep.AudioURL, &ep.EpisodeURL, &ep.DurationMinutes, &published,
		&status, &ep.Attempts, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ep.Status = model.EpisodeStatus(status)
	if published != nil {
		ep.PublishedAt = published.UTC()
	}
	return &ep, nil
}

func scanIntelligencePg(row pgx.Row) (*model.Intelligence, error) {
	var rec model.Intelligence
	var sectionsJSON []byte
	var micro, extractionMS int64

	err := row.Scan(&rec.ID, &rec.Episode.PodcastID, &rec.Episode.GUID, &rec.EpisodeURL,
		&rec.HeadlineTakeaway, &rec.ExecutiveSummary, &rec.BottomLine,
		&sectionsJSON, &rec.ImportanceScore, &rec.GuestExpertise, &rec.ParsingError,
		&rec.TokensIn, &rec.TokensOut, &micro, &extractionMS, &rec.Model, &rec.ExtractedAt)
	if err != nil {
		return nil, err
	}

	var sec intelSections
	if err := json.Unmarshal(sectionsJSON, &sec); err != nil {
		return nil, eris.Wrap(err, "unmarshal intelligence sections")
	}
	applySections(&rec, sec)
	rec.CostUSD = cost.USD(micro)
	rec.ExtractionDuration = time.Duration(extractionMS) * time.Millisecond
	return &rec, nil
}
