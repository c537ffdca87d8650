package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/extract"
	"github.com/sells-group/podcast-intel/internal/model"
	"github.com/sells-group/podcast-intel/internal/resilience"
	"github.com/sells-group/podcast-intel/internal/store"
)

// mockEngine stands in for the extraction engine.
type mockEngine struct {
	mock.Mock
}

var _ extract.Engine = (*mockEngine)(nil)

func (m *mockEngine) Extract(ctx context.Context, ep model.Episode, focus string) (*model.Intelligence, error) {
	args := m.Called(ctx, ep, focus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// Return a copy per call, as a real engine would: the store assigns
	// intel.ID on commit, so a shared pointer would leak the first episode's
	// ID into later commits.
	intel := *args.Get(0).(*model.Intelligence)
	return &intel, args.Error(1)
}

// stubFeeds returns a fixed candidate list.
type stubFeeds struct {
	episodes []model.Episode
	errs     []model.EpisodeError
}

var _ FeedSource = (*stubFeeds)(nil)

func (s *stubFeeds) FetchAll(ctx context.Context, podcasts []model.Podcast) ([]model.Episode, []model.EpisodeError) {
	return s.episodes, s.errs
}

// fixedEstimator always predicts the same cost.
type fixedEstimator struct {
	amount cost.USD
}

var _ Estimator = (*fixedEstimator)(nil)

func (e *fixedEstimator) Estimate(ep model.Episode) cost.USD { return e.amount }

type testPipeline struct {
	orch   *Orchestrator
	store  *store.SQLiteStore
	ledger *budget.Ledger
	engine *mockEngine
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func newTestPipeline(t *testing.T, limits budget.Limits, feeds FeedSource, estimate cost.USD) *testPipeline {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ledger := budget.NewLedger(st, limits)
	engine := &mockEngine{}

	orch := NewOrchestrator(st, ledger, engine, feeds, &fixedEstimator{amount: estimate},
		WithExtractRetry(fastRetry()),
		WithCommitRetry(fastRetry()),
	)
	return &testPipeline{orch: orch, store: st, ledger: ledger, engine: engine}
}

func episode(guid string, published time.Time) model.Episode {
	return model.Episode{
		PodcastID:   "showtime",
		GUID:        guid,
		PodcastName: "Showtime",
		Title:       "Episode " + guid,
		Description: "Episode content for " + guid,
		PublishedAt: published,
		Status:      model.StatusDiscovered,
	}
}

func intelFor(ep model.Episode, actual cost.USD) *model.Intelligence {
	return &model.Intelligence{
		HeadlineTakeaway: "Takeaway for " + ep.GUID,
		ExecutiveSummary: "Summary",
		ImportanceScore:  7,
		TokensIn:         1000,
		TokensOut:        500,
		CostUSD:          actual,
		Model:            "claude-sonnet-4-5",
		ExtractedAt:      time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
}

func podcasts() []model.Podcast {
	return []model.Podcast{{ID: "showtime", Name: "Showtime", Focus: "business", Active: true}}
}

var baseTime = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func candidates(n int) []model.Episode {
	eps := make([]model.Episode, n)
	for i := range eps {
		eps[i] = episode(string(rune('a'+i)), baseTime.Add(time.Duration(i)*time.Hour))
	}
	return eps
}

func dollars(f float64) cost.USD { return cost.FromFloat(f) }

func TestRun_BudgetExhaustionStopsRun(t *testing.T) {
	// Daily limit $1.00, three candidates estimated at $0.40 each: the first
	// two are admitted, the third is rejected and ends the run.
	feeds := &stubFeeds{episodes: candidates(3)}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(1.00), Weekly: dollars(100)}, feeds, dollars(0.40))

	tp.engine.On("Extract", mock.Anything, mock.Anything, "business").
		Return(intelFor(model.Episode{GUID: "x"}, dollars(0.40)), nil).Twice()

	summary, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 2, summary.Extracted)
	assert.Equal(t, 1, summary.SkippedBudget)
	assert.Equal(t, 0, summary.Failed)
	tp.engine.AssertNumberOfCalls(t, "Extract", 2)

	// The rejected episode is marked, not silently dropped.
	ep, err := tp.store.GetEpisode(context.Background(), model.EpisodeKey{PodcastID: "showtime", GUID: "c"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkippedBudget, ep.Status)

	daily, _, err := tp.ledger.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dollars(0.80), daily.Spent)
}

func TestRun_TransientFailuresRetriedThenSucceed(t *testing.T) {
	feeds := &stubFeeds{episodes: candidates(1)}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	transient := resilience.NewTransientError(eris.New("overloaded"), 529)
	actual := dollars(0.0105)
	tp.engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(nil, transient).Twice()
	tp.engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(intelFor(model.Episode{GUID: "a"}, actual), nil).Once()

	summary, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Extracted)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, actual, summary.TotalCost)
	tp.engine.AssertNumberOfCalls(t, "Extract", 3)

	// The reservation was adjusted down to the actual cost.
	daily, _, err := tp.ledger.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, actual, daily.Spent)
}

func TestRun_TransientFailuresExhaustAttempts(t *testing.T) {
	feeds := &stubFeeds{episodes: candidates(2)}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	transient := resilience.NewTransientError(eris.New("timeout"), 0)
	key := model.EpisodeKey{PodcastID: "showtime", GUID: "a"}
	tp.engine.On("Extract", mock.Anything, mock.MatchedBy(func(ep model.Episode) bool { return ep.GUID == "a" }), mock.Anything).
		Return(nil, transient).Times(3)
	tp.engine.On("Extract", mock.Anything, mock.MatchedBy(func(ep model.Episode) bool { return ep.GUID == "b" }), mock.Anything).
		Return(intelFor(model.Episode{GUID: "b"}, dollars(0.01)), nil).Once()

	summary, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)

	// One episode failed after retries; the run continued to the next.
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Extracted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, key, summary.Errors[0].Episode)

	ep, err := tp.store.GetEpisode(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, ep.Status)
	assert.Equal(t, 1, ep.Attempts)

	// The failed episode's reservation was released: only the success spends.
	daily, _, err := tp.ledger.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dollars(0.01), daily.Spent)
}

func TestRun_PermanentFailureNotRetried(t *testing.T) {
	feeds := &stubFeeds{episodes: candidates(1)}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	tp.engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.New("malformed input")).Once()

	summary, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	tp.engine.AssertNumberOfCalls(t, "Extract", 1)

	daily, _, err := tp.ledger.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cost.USD(0), daily.Spent)
}

func TestRun_SecondRunExtractsNothing(t *testing.T) {
	eps := candidates(2)
	feeds := &stubFeeds{episodes: eps}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	tp.engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(intelFor(model.Episode{GUID: "x"}, dollars(0.01)), nil).Twice()

	first, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Extracted)

	second, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Extracted)
	assert.Equal(t, 2, second.SkippedDuplicate)
	tp.engine.AssertNumberOfCalls(t, "Extract", 2)
}

func TestRun_FailedEpisodeNotRetriedNextRun(t *testing.T) {
	feeds := &stubFeeds{episodes: candidates(1)}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	tp.engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.New("permanent")).Once()

	_, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)

	// A failed episode counts as attempted and is not extracted again.
	second, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)
	assert.Equal(t, 1, second.SkippedDuplicate)
	tp.engine.AssertNumberOfCalls(t, "Extract", 1)
}

func TestRun_CancellationStopsBetweenEpisodes(t *testing.T) {
	feeds := &stubFeeds{episodes: candidates(5)}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := tp.orch.Run(ctx, podcasts())
	require.NoError(t, err)
	assert.True(t, summary.Canceled)
	assert.Equal(t, 5, summary.Fetched)
	assert.Equal(t, 0, summary.Outcomes())
	tp.engine.AssertNumberOfCalls(t, "Extract", 0)
}

func TestRun_FeedErrorsSurfaceInSummary(t *testing.T) {
	feeds := &stubFeeds{
		errs: []model.EpisodeError{{
			Episode: model.EpisodeKey{PodcastID: "down"},
			Title:   "Down Podcast",
			Err:     "connection refused",
		}},
	}
	tp := newTestPipeline(t, budget.Limits{Daily: dollars(10), Weekly: dollars(10)}, feeds, dollars(0.40))

	summary, err := tp.orch.Run(context.Background(), podcasts())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fetched)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "down", summary.Errors[0].Episode.PodcastID)
}

// flakyStore fails the first commit attempts with a storage error, then
// delegates to the real store.
type flakyStore struct {
	store.Store
	failures int
}

func (f *flakyStore) CommitExtraction(ctx context.Context, key model.EpisodeKey, intel *model.Intelligence) error {
	if f.failures > 0 {
		f.failures--
		return eris.New("disk unavailable")
	}
	return f.Store.CommitExtraction(ctx, key, intel)
}

func TestRun_CommitRetriedWithoutReExtraction(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	flaky := &flakyStore{Store: st, failures: 2}
	ledger := budget.NewLedger(st, budget.Limits{Daily: dollars(10), Weekly: dollars(10)})
	engine := &mockEngine{}
	feeds := &stubFeeds{episodes: candidates(1)}

	orch := NewOrchestrator(flaky, ledger, engine, feeds, &fixedEstimator{amount: dollars(0.40)},
		WithExtractRetry(fastRetry()),
		WithCommitRetry(fastRetry()),
	)

	engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(intelFor(model.Episode{GUID: "a"}, dollars(0.01)), nil).Once()

	summary, err := orch.Run(context.Background(), podcasts())
	require.NoError(t, err)

	// The commit was retried; the paid extraction ran exactly once.
	assert.Equal(t, 1, summary.Extracted)
	engine.AssertNumberOfCalls(t, "Extract", 1)

	recs, err := st.ListIntelligence(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRun_CommitAlreadyLandedTreatedAsSuccess(t *testing.T) {
	// A commit whose first attempt landed but errored on the way back is
	// retried; the retry sees the existing record and treats it as done.
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ghost := &ghostCommitStore{Store: st}
	ledger := budget.NewLedger(st, budget.Limits{Daily: dollars(10), Weekly: dollars(10)})
	engine := &mockEngine{}
	feeds := &stubFeeds{episodes: candidates(1)}

	orch := NewOrchestrator(ghost, ledger, engine, feeds, &fixedEstimator{amount: dollars(0.40)},
		WithExtractRetry(fastRetry()),
		WithCommitRetry(fastRetry()),
	)

	engine.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(intelFor(model.Episode{GUID: "a"}, dollars(0.01)), nil).Once()

	summary, err := orch.Run(context.Background(), podcasts())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Extracted)
	assert.Equal(t, 0, summary.Failed)

	recs, err := st.ListIntelligence(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// ghostCommitStore commits successfully but reports an error on the first
// attempt, simulating a crash between commit and acknowledgment.
type ghostCommitStore struct {
	store.Store
	tried bool
}

func (g *ghostCommitStore) CommitExtraction(ctx context.Context, key model.EpisodeKey, intel *model.Intelligence) error {
	err := g.Store.CommitExtraction(ctx, key, intel)
	if err == nil && !g.tried {
		g.tried = true
		return eris.New("connection reset before ack")
	}
	return err
}
