package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/podcast-intel/internal/model"
	"github.com/sells-group/podcast-intel/internal/report"
	"github.com/sells-group/podcast-intel/internal/store"
)

var (
	episodesStatus  string
	episodesPodcast string
	episodesLimit   int
	intelLimit      int
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "List tracked episodes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		filter := store.EpisodeFilter{
			PodcastID: episodesPodcast,
			Status:    model.EpisodeStatus(episodesStatus),
			Limit:     episodesLimit,
		}
		episodes, err := st.ListEpisodes(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list episodes")
		}

		report.WriteEpisodes(os.Stdout, episodes)
		return nil
	},
}

var intelCmd = &cobra.Command{
	Use:   "intel",
	Short: "Show extracted intelligence, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		recs, err := st.ListIntelligence(ctx, intelLimit)
		if err != nil {
			return eris.Wrap(err, "list intelligence")
		}

		report.WriteIntelligence(os.Stdout, recs)
		return nil
	},
}

func init() {
	episodesCmd.Flags().StringVar(&episodesStatus, "status", "", "filter by status")
	episodesCmd.Flags().StringVar(&episodesPodcast, "podcast", "", "filter by podcast id")
	episodesCmd.Flags().IntVar(&episodesLimit, "limit", 50, "maximum rows")
	intelCmd.Flags().IntVar(&intelLimit, "limit", 20, "maximum records")
	rootCmd.AddCommand(episodesCmd)
	rootCmd.AddCommand(intelCmd)
}
