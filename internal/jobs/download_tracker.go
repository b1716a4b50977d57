package jobs

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"github.com/rs/zerolog"

	"github.com/tickerpulse/core/internal/store"
)

// TrackedRepo identifies one GitHub repository whose clone traffic
// download_tracker records.
type TrackedRepo struct {
	Owner string
	Name  string
}

// DownloadTracker implements the download_tracker job from spec.md §4.K:
// pull each tracked repo's 14-day clone traffic from the GitHub API and
// record both a point-in-time total (download_stats) and a per-day
// upsert (download_daily), grounded on the teacher pack's
// google/go-github client construction
// (ternarybob-quaero's internal/connectors/github/connector.go).
type DownloadTracker struct {
	store  *store.Store
	client *github.Client
	repos  []TrackedRepo
	log    zerolog.Logger
}

func NewDownloadTracker(st *store.Store, client *github.Client, repos []TrackedRepo, log zerolog.Logger) *DownloadTracker {
	return &DownloadTracker{store: st, client: client, repos: repos, log: log.With().Str("component", "download_tracker").Logger()}
}

func (d *DownloadTracker) Run(ctx context.Context) (Outcome, error) {
	if len(d.repos) == 0 {
		return Outcome{Status: "skipped", ResultSummary: "no tracked repos configured"}, nil
	}

	tracked, failed := 0, 0
	for _, repo := range d.repos {
		clones, _, err := d.client.Repositories.ListTrafficClones(ctx, repo.Owner, repo.Name, &github.TrafficBreakdownOptions{Per: "day"})
		if err != nil {
			d.log.Warn().Err(err).Str("repo", repo.Name).Msg("failed to fetch clone traffic")
			failed++
			continue
		}

		if err := d.persist(ctx, repo.Name, clones); err != nil {
			return Outcome{}, fmt.Errorf("persist clone traffic for %s: %w", repo.Name, err)
		}
		tracked++
	}

	return Outcome{ResultSummary: fmt.Sprintf("tracked %d repos, %d failed", tracked, failed)}, nil
}

func (d *DownloadTracker) persist(ctx context.Context, repoName string, clones *github.TrafficClones) error {
	return d.store.Session(ctx, true, func(tx *store.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO download_stats (repo, clone_count) VALUES (?, ?)",
			repoName, clones.GetCount()); err != nil {
			return err
		}

		for _, day := range clones.Clones {
			if day.Timestamp == nil {
				continue
			}
			logDate := day.Timestamp.Time.Format("2006-01-02")
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO download_daily (repo, log_date, clone_count)
				VALUES (?, ?, ?)
				ON CONFLICT(repo, log_date) DO UPDATE SET clone_count = excluded.clone_count`,
				repoName, logDate, day.GetCount()); err != nil {
				return err
			}
		}
		return nil
	})
}
