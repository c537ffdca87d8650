// Package pipeline drives a full processing run: discovery, dedup, budget
// admission, extraction with retry, cost reconciliation, and persistence.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/extract"
	"github.com/sells-group/podcast-intel/internal/model"
	"github.com/sells-group/podcast-intel/internal/resilience"
	"github.com/sells-group/podcast-intel/internal/store"
)

// FeedSource lists candidate episodes for a run. Implemented by feed.Fetcher.
type FeedSource interface {
	FetchAll(ctx context.Context, podcasts []model.Podcast) ([]model.Episode, []model.EpisodeError)
}

// Orchestrator sequences one pipeline run. Episodes are processed one at a
// time in oldest-published-first order; the budget ledger is the only
// admission gate and a rejection ends the run early.
type Orchestrator struct {
	store     store.Store
	ledger    *budget.Ledger
	engine    extract.Engine
	feeds     FeedSource
	estimator Estimator

	extractRetry resilience.RetryConfig
	commitRetry  resilience.RetryConfig
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExtractRetry overrides the retry policy for extraction calls.
func WithExtractRetry(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.extractRetry = cfg }
}

// WithCommitRetry overrides the retry policy for persistence commits.
func WithCommitRetry(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.commitRetry = cfg }
}

// WithClock overrides the orchestrator's time source. Test use.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the pipeline's collaborators together.
func NewOrchestrator(st store.Store, ledger *budget.Ledger, engine extract.Engine, feeds FeedSource, estimator Estimator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		ledger:       ledger,
		engine:       engine,
		feeds:        feeds,
		estimator:    estimator,
		extractRetry: resilience.DefaultRetryConfig(),
		commitRetry:  resilience.DefaultRetryConfig(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full pipeline pass over the given podcasts and returns
// the run summary. A single episode's failure never aborts the run; only
// budget exhaustion, cancellation, or an infrastructure failure ends it
// early. The summary is returned even alongside a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, podcasts []model.Podcast) (*model.RunSummary, error) {
	started := o.now()
	summary := &model.RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: started.UTC(),
	}
	defer func() { summary.Duration = o.now().Sub(started) }()

	zap.L().Info("pipeline: run started",
		zap.String("run_id", summary.RunID),
		zap.Int("podcasts", len(podcasts)),
	)

	focus := make(map[string]string, len(podcasts))
	for _, p := range podcasts {
		focus[p.ID] = p.Focus
	}

	candidates, feedErrs := o.feeds.FetchAll(ctx, podcasts)
	summary.Fetched = len(candidates)
	summary.Errors = append(summary.Errors, feedErrs...)

	for _, ep := range candidates {
		select {
		case <-ctx.Done():
			summary.Canceled = true
			zap.L().Warn("pipeline: run canceled", zap.String("run_id", summary.RunID))
			o.logSummary(summary)
			return summary, nil
		default:
		}

		stop, err := o.processEpisode(ctx, ep, focus[ep.PodcastID], summary)
		if err != nil {
			o.logSummary(summary)
			return summary, err
		}
		if stop {
			break
		}
	}

	o.logSummary(summary)
	return summary, nil
}

// processEpisode advances one candidate through the state machine. It
// returns stop=true when the run should end early (budget exhausted) and a
// non-nil error only for infrastructure failures that make further
// processing pointless.
func (o *Orchestrator) processEpisode(ctx context.Context, ep model.Episode, focus string, summary *model.RunSummary) (stop bool, err error) {
	key := ep.Key()
	log := zap.L().With(zap.String("episode", key.String()))

	if _, err := o.store.RecordDiscovered(ctx, ep); err != nil {
		return false, eris.Wrap(err, "pipeline: record discovered")
	}

	attempted, err := o.store.AlreadyAttempted(ctx, key)
	if err != nil {
		return false, eris.Wrap(err, "pipeline: dedup check")
	}
	if attempted {
		summary.SkippedDuplicate++
		log.Debug("pipeline: skipped duplicate")
		return false, nil
	}

	estimate := o.estimator.Estimate(ep)
	reservation, err := o.ledger.Reserve(ctx, estimate)
	if budget.IsRejected(err) {
		summary.SkippedBudget++
		if serr := o.store.SetStatus(ctx, key, model.StatusSkippedBudget); serr != nil {
			log.Warn("pipeline: mark skipped_budget failed", zap.Error(serr))
		}
		log.Info("pipeline: budget exhausted, ending run",
			zap.String("estimate", estimate.String()),
			zap.Error(err),
		)
		return true, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "pipeline: reserve")
	}

	if err := o.store.SetStatus(ctx, key, model.StatusAdmitted); err != nil {
		// The reservation is already held; return it before giving up.
		if rerr := o.ledger.Release(ctx, reservation); rerr != nil {
			log.Error("pipeline: release after admit failure", zap.Error(rerr))
		}
		return false, eris.Wrap(err, "pipeline: mark admitted")
	}

	if err := o.store.IncrementAttempts(ctx, key); err != nil {
		log.Warn("pipeline: increment attempts failed", zap.Error(err))
	}

	intel, err := resilience.DoVal(ctx, o.retryPolicy(key), func(ctx context.Context) (*model.Intelligence, error) {
		return o.engine.Extract(ctx, ep, focus)
	})
	if err != nil {
		if rerr := o.ledger.Release(ctx, reservation); rerr != nil {
			log.Error("pipeline: release failed", zap.Error(rerr))
		}
		o.markFailed(ctx, key, ep.Title, err, summary)
		return false, nil
	}

	if err := o.ledger.Adjust(ctx, reservation, intel.CostUSD); err != nil {
		// The spend happened; the record is still worth persisting. Surface
		// the reconciliation failure in the summary instead of dropping it.
		log.Error("pipeline: ledger adjust failed", zap.Error(err))
		summary.Errors = append(summary.Errors, model.EpisodeError{
			Episode: key, Title: ep.Title, Err: err.Error(),
		})
	}

	if err := o.commit(ctx, key, intel); err != nil {
		o.markFailed(ctx, key, ep.Title, err, summary)
		return false, nil
	}

	summary.Extracted++
	summary.TotalCost += intel.CostUSD
	return false, nil
}

// retryPolicy attaches per-episode retry logging to the configured policy.
func (o *Orchestrator) retryPolicy(key model.EpisodeKey) resilience.RetryConfig {
	cfg := o.extractRetry
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("pipeline: extraction retry",
			zap.String("episode", key.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return cfg
}

// commit persists the extraction, retrying storage failures only. The paid
// extraction is never re-run to recover from a commit error. A record that
// turns out to already exist after a retry means an earlier attempt landed;
// on the first attempt it is an integrity violation and fails loudly.
func (o *Orchestrator) commit(ctx context.Context, key model.EpisodeKey, intel *model.Intelligence) error {
	attempt := 0
	cfg := o.commitRetry
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, store.ErrAlreadyCommitted)
	}
	cfg.OnRetry = resilience.RetryLogger("commit " + key.String())

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		attempt++
		err := o.store.CommitExtraction(ctx, key, intel)
		if errors.Is(err, store.ErrAlreadyCommitted) && attempt > 1 {
			// The prior attempt committed before its error surfaced.
			return nil
		}
		return err
	})
}

func (o *Orchestrator) markFailed(ctx context.Context, key model.EpisodeKey, title string, cause error, summary *model.RunSummary) {
	if err := o.store.SetStatus(ctx, key, model.StatusFailed); err != nil {
		zap.L().Error("pipeline: mark failed",
			zap.String("episode", key.String()),
			zap.Error(err),
		)
	}
	summary.Failed++
	summary.Errors = append(summary.Errors, model.EpisodeError{
		Episode: key, Title: title, Err: cause.Error(),
	})
	zap.L().Warn("pipeline: episode failed",
		zap.String("episode", key.String()),
		zap.Error(cause),
	)
}

func (o *Orchestrator) logSummary(s *model.RunSummary) {
	zap.L().Info("pipeline: run finished",
		zap.String("run_id", s.RunID),
		zap.Int("fetched", s.Fetched),
		zap.Int("skipped_duplicate", s.SkippedDuplicate),
		zap.Int("skipped_budget", s.SkippedBudget),
		zap.Int("extracted", s.Extracted),
		zap.Int("failed", s.Failed),
		zap.String("total_cost", s.TotalCost.String()),
		zap.Bool("canceled", s.Canceled),
	)
}
