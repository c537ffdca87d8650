// Package report renders run results as plain text for CLI output.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sells-group/podcast-intel/internal/model"
)

// WriteSummary writes a human-readable run summary to w.
func WriteSummary(w io.Writer, s *model.RunSummary) {
	status := "completed"
	if s.Canceled {
		status = "canceled"
	}

	_, _ = fmt.Fprintf(w, "Run %s %s in %s\n", s.RunID, status, s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "  Fetched:\t%d\n", s.Fetched)
	_, _ = fmt.Fprintf(tw, "  Extracted:\t%d\n", s.Extracted)
	_, _ = fmt.Fprintf(tw, "  Duplicates skipped:\t%d\n", s.SkippedDuplicate)
	_, _ = fmt.Fprintf(tw, "  Budget skipped:\t%d\n", s.SkippedBudget)
	_, _ = fmt.Fprintf(tw, "  Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(tw, "  Total cost:\t%s\n", s.TotalCost)
	_ = tw.Flush()

	if len(s.Errors) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "\nErrors (%d):\n", len(s.Errors))
	for _, e := range s.Errors {
		name := e.Title
		if name == "" {
			name = e.Episode.String()
		}
		_, _ = fmt.Fprintf(w, "  - %s: %s\n", name, e.Err)
	}
}

// WriteEpisodes writes a tabular episode list to w.
func WriteEpisodes(w io.Writer, episodes []model.Episode) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PODCAST\tTITLE\tPUBLISHED\tSTATUS\tATTEMPTS")
	_, _ = fmt.Fprintln(tw, "-------\t-----\t---------\t------\t--------")

	for _, ep := range episodes {
		published := ""
		if !ep.PublishedAt.IsZero() {
			published = ep.PublishedAt.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			ep.PodcastName,
			truncate(ep.Title, 45),
			published,
			ep.Status,
			ep.Attempts,
		)
	}
	_ = tw.Flush()
}

// WriteIntelligence writes extracted records to w, newest first.
func WriteIntelligence(w io.Writer, recs []model.Intelligence) {
	for i, r := range recs {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s (importance %d, %s)\n", r.Episode, r.ImportanceScore, r.CostUSD)
		_, _ = fmt.Fprintf(w, "  %s\n", r.HeadlineTakeaway)
		if r.ParsingError {
			_, _ = fmt.Fprintln(w, "  [response did not parse cleanly]")
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
