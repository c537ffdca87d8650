// Package extract turns episode content into structured intelligence records
// via the Anthropic API.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
	"github.com/sells-group/podcast-intel/internal/resilience"
	"github.com/sells-group/podcast-intel/pkg/anthropic"
)

// Engine extracts intelligence from one episode.
type Engine interface {
	Extract(ctx context.Context, ep model.Episode, focus string) (*model.Intelligence, error)
}

// Config holds the extraction model parameters.
type Config struct {
	Model             string        `yaml:"model" mapstructure:"model"`
	MaxTokens         int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 3500
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 30
	}
	return c
}

// ClaudeEngine implements Engine against the Anthropic API with client-side
// rate limiting and a per-request timeout.
type ClaudeEngine struct {
	client  anthropic.Client
	cfg     Config
	calc    *cost.Calculator
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClaudeEngine creates an extraction engine.
func NewClaudeEngine(client anthropic.Client, cfg Config, calc *cost.Calculator) *ClaudeEngine {
	cfg = cfg.withDefaults()
	return &ClaudeEngine{
		client:  client,
		cfg:     cfg,
		calc:    calc,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		now:     time.Now,
	}
}

// Extract runs one extraction call and returns a fully accounted record.
// API failures with retryable status codes come back wrapped as transient so
// the caller's retry policy can classify them.
func (e *ClaudeEngine) Extract(ctx context.Context, ep model.Episode, focus string) (*model.Intelligence, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := e.now()
	resp, err := e.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: &e.cfg.Temperature,
		Messages: []anthropic.Message{
			{Role: "user", Content: BuildPrompt(ep, focus)},
		},
	})
	if err != nil {
		if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
			return nil, resilience.NewTransientError(err, status)
		}
		return nil, eris.Wrapf(err, "extract: %s", ep.Key())
	}

	intel := ParseResponse(resp.Text(), ep.Title)
	intel.Episode = ep.Key()
	intel.EpisodeURL = ep.EpisodeURL
	intel.TokensIn = int(resp.Usage.InputTokens)
	intel.TokensOut = int(resp.Usage.OutputTokens)
	intel.CostUSD = e.calc.Compute(intel.TokensIn, intel.TokensOut)
	intel.ExtractionDuration = e.now().Sub(start)
	intel.Model = e.cfg.Model
	intel.ExtractedAt = e.now().UTC()

	zap.L().Info("extract: complete",
		zap.String("episode", ep.Key().String()),
		zap.Int("tokens_in", intel.TokensIn),
		zap.Int("tokens_out", intel.TokensOut),
		zap.String("cost", intel.CostUSD.String()),
		zap.Duration("duration", intel.ExtractionDuration),
		zap.Bool("parsing_error", intel.ParsingError),
	)
	return intel, nil
}
