package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/podcast-intel/internal/budget"
	"github.com/sells-group/podcast-intel/internal/config"
	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/extract"
	"github.com/sells-group/podcast-intel/internal/feed"
	"github.com/sells-group/podcast-intel/internal/pipeline"
	"github.com/sells-group/podcast-intel/internal/report"
	"github.com/sells-group/podcast-intel/internal/resilience"
	anthropicpkg "github.com/sells-group/podcast-intel/pkg/anthropic"
)

var processJSON bool

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Fetch new episodes and extract intelligence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		podcasts, err := config.LoadPodcasts(cfg.Feed.PodcastsFile)
		if err != nil {
			return err
		}
		if len(podcasts) == 0 {
			return eris.New("no podcasts configured")
		}

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (PODINTEL_ANTHROPIC_KEY)")
		}

		calc := cost.NewCalculator(cfg.Pricing)
		ledger := budget.NewLedger(st, budget.Limits{
			Daily:          cost.FromFloat(cfg.Budget.DailyLimitUSD),
			Weekly:         cost.FromFloat(cfg.Budget.WeeklyLimitUSD),
			AlertThreshold: cfg.Budget.AlertThreshold,
		})

		engine := extract.NewClaudeEngine(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			extract.Config{
				Model:             cfg.Anthropic.Model,
				MaxTokens:         cfg.Anthropic.MaxTokens,
				Temperature:       cfg.Anthropic.Temperature,
				Timeout:           time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
				RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
			},
			calc,
		)

		fetcher := feed.NewFetcher(feed.Config{
			LookbackDays:          cfg.Feed.LookbackDays,
			MaxEpisodesPerPodcast: cfg.Feed.MaxEpisodesPerPodcast,
			Timeout:               time.Duration(cfg.Feed.TimeoutSecs) * time.Second,
			Concurrency:           cfg.Feed.Concurrency,
		})

		orch := pipeline.NewOrchestrator(st, ledger, engine, fetcher,
			pipeline.NewConservativeEstimator(calc, int(cfg.Anthropic.MaxTokens)),
			pipeline.WithExtractRetry(retryConfig(cfg.Retry.Extract)),
			pipeline.WithCommitRetry(retryConfig(cfg.Retry.Commit)),
		)

		summary, runErr := orch.Run(ctx, podcasts)
		if summary != nil {
			if processJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return err
				}
			} else {
				report.WriteSummary(os.Stdout, summary)
			}
		}
		if runErr != nil {
			zap.L().Error("run aborted", zap.Error(runErr))
			return eris.Wrap(runErr, "pipeline run")
		}

		return nil
	},
}

func retryConfig(p config.RetryPolicy) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    p.MaxAttempts,
		InitialBackoff: time.Duration(p.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(p.MaxBackoffMs) * time.Millisecond,
		Multiplier:     p.Multiplier,
	}
}

func init() {
	processCmd.Flags().BoolVar(&processJSON, "json", false, "emit the run summary as JSON")
	rootCmd.AddCommand(processCmd)
}
