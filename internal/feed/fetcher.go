// Package feed discovers podcast episodes from RSS/Atom feeds.
package feed

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/podcast-intel/internal/model"
)

// Config controls the discovery window.
type Config struct {
	// LookbackDays drops entries published before now minus this many days.
	LookbackDays int `yaml:"lookback_days" mapstructure:"lookback_days"`
	// MaxEpisodesPerPodcast caps candidates taken from a single feed.
	MaxEpisodesPerPodcast int `yaml:"max_episodes_per_podcast" mapstructure:"max_episodes_per_podcast"`
	// Timeout bounds a single feed fetch.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Concurrency is the number of feeds fetched in parallel.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

func (c Config) withDefaults() Config {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 7
	}
	if c.MaxEpisodesPerPodcast <= 0 {
		c.MaxEpisodesPerPodcast = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Fetcher fetches and parses podcast feeds. It does no database work; it
// returns clean candidate episodes for the pipeline to dedup and admit.
type Fetcher struct {
	parser *gofeed.Parser
	cfg    Config
	now    func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the fetcher's time source. Test use.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a Fetcher with the given config.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	cfg = cfg.withDefaults()
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Timeout}

	f := &Fetcher{
		parser: parser,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPodcast returns recent episodes for one podcast, newest entries first
// as feeds list them, filtered to the lookback window and capped at the
// per-podcast maximum.
func (f *Fetcher) FetchPodcast(ctx context.Context, p model.Podcast) ([]model.Episode, error) {
	parsed, err := f.parser.ParseURLWithContext(p.RSSURL, ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: fetch %s", p.ID)
	}
	if len(parsed.Items) == 0 {
		zap.L().Warn("feed: no entries", zap.String("podcast", p.ID))
		return nil, nil
	}

	cutoff := f.now().AddDate(0, 0, -f.cfg.LookbackDays)

	// Scan extra entries in case the newest ones fall outside the window.
	scan := f.cfg.MaxEpisodesPerPodcast * 2
	if scan > len(parsed.Items) {
		scan = len(parsed.Items)
	}

	var episodes []model.Episode
	for _, item := range parsed.Items[:scan] {
		ep, ok := f.parseItem(item, p)
		if !ok {
			continue
		}
		if !ep.PublishedAt.IsZero() && ep.PublishedAt.Before(cutoff) {
			continue
		}
		episodes = append(episodes, ep)
		if len(episodes) >= f.cfg.MaxEpisodesPerPodcast {
			break
		}
	}

	zap.L().Info("feed: fetched",
		zap.String("podcast", p.ID),
		zap.Int("candidates", len(episodes)),
	)
	return episodes, nil
}

// FetchAll fetches every active podcast's feed concurrently. A failing feed
// contributes zero candidates and an entry in errs; it never aborts the rest.
// The combined result is sorted oldest published first, which is the order
// the pipeline processes candidates in.
func (f *Fetcher) FetchAll(ctx context.Context, podcasts []model.Podcast) ([]model.Episode, []model.EpisodeError) {
	results := make([][]model.Episode, len(podcasts))
	failures := make([]*model.EpisodeError, len(podcasts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for i, p := range podcasts {
		if !p.Active {
			continue
		}
		g.Go(func() error {
			eps, err := f.FetchPodcast(gctx, p)
			if err != nil {
				zap.L().Warn("feed: fetch failed",
					zap.String("podcast", p.ID),
					zap.Error(err),
				)
				failures[i] = &model.EpisodeError{
					Episode: model.EpisodeKey{PodcastID: p.ID},
					Title:   p.Name,
					Err:     err.Error(),
				}
				return nil
			}
			results[i] = eps
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	var all []model.Episode
	var errs []model.EpisodeError
	for i := range podcasts {
		all = append(all, results[i]...)
		if failures[i] != nil {
			errs = append(errs, *failures[i])
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].PublishedAt.Before(all[j].PublishedAt)
	})
	return all, errs
}

// parseItem converts a feed item to an episode. Items without a title are
// dropped; a missing GUID falls back to the title so the identity stays
// stable across fetches.
func (f *Fetcher) parseItem(item *gofeed.Item, p model.Podcast) (model.Episode, bool) {
	title := item.Title
	if title == "" {
		zap.L().Warn("feed: entry missing title", zap.String("podcast", p.ID))
		return model.Episode{}, false
	}

	guid := item.GUID
	if guid == "" {
		guid = title
	}

	description := item.Description
	if description == "" {
		description = item.Content
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	return model.Episode{
		PodcastID:       p.ID,
		GUID:            guid,
		PodcastName:     p.Name,
		Title:           title,
		Description:     description,
		AudioURL:        audioURL(item),
		EpisodeURL:      item.Link,
		DurationMinutes: durationMinutes(item),
		PublishedAt:     published,
		Status:          model.StatusDiscovered,
	}, true
}

func audioURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && containsAudio(enc.Type) {
			return enc.URL
		}
	}
	return ""
}

func containsAudio(mimeType string) bool {
	return len(mimeType) >= 5 && mimeType[:5] == "audio"
}
