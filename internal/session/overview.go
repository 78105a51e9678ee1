package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/swapisticated/Astro-Repo/internal/cache"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/tree"
)

// Overview section sizes.
const (
	OverviewCommits      = 5
	OverviewContributors = 8
	OverviewEvents       = 6
)

// Activity is the remote part of an overview. A section that failed to load
// is empty and its error is listed in Errors by section name.
type Activity struct {
	Info         *models.RepoInfo     `json:"repository,omitempty"`
	Commits      []models.Commit      `json:"commits"`
	Contributors []models.Contributor `json:"contributors"`
	Events       []models.Event       `json:"events"`
	Errors       map[string]string    `json:"errors,omitempty"`
}

// Overview combines repository activity with statistics of the loaded tree.
type Overview struct {
	Repo string `json:"repo"`
	Activity
	Stats tree.Stats `json:"stats"`
	Size  string     `json:"size"`
}

// Overview loads repository metadata, commits, contributors and events
// concurrently. Sections are independent: one failing never cancels the
// others.
func (s *Session) Overview(ctx context.Context) (*Overview, error) {
	key := cache.Key{Kind: cache.KindOverview, ID: s.Ref.String()}
	act, err := s.activity.GetOrLoad(ctx, key, s.loadActivity)
	if err != nil {
		return nil, err
	}
	if len(act.Errors) > 0 {
		// Partial results are served once, not kept.
		s.activity.Delete(key)
	}
	stats := s.Stats()
	return &Overview{
		Repo:     s.Ref.String(),
		Activity: *act,
		Stats:    stats,
		Size:     tree.HumanSize(stats.Bytes),
	}, nil
}

func (s *Session) loadActivity(ctx context.Context) (*Activity, error) {
	var (
		act         Activity
		infoErr     error
		commitsErr  error
		contribsErr error
		eventsErr   error
		g           errgroup.Group
	)
	g.Go(func() error {
		act.Info, infoErr = s.src.Repo(ctx, s.Ref)
		return nil
	})
	g.Go(func() error {
		act.Commits, commitsErr = s.src.Commits(ctx, s.Ref, OverviewCommits)
		return nil
	})
	g.Go(func() error {
		act.Contributors, contribsErr = s.src.Contributors(ctx, s.Ref, OverviewContributors)
		return nil
	})
	g.Go(func() error {
		act.Events, eventsErr = s.src.Events(ctx, s.Ref, OverviewEvents)
		return nil
	})
	_ = g.Wait()

	for name, err := range map[string]error{"repository": infoErr, "commits": commitsErr, "contributors": contribsErr, "events": eventsErr} {
		if err == nil {
			continue
		}
		if act.Errors == nil {
			act.Errors = make(map[string]string)
		}
		act.Errors[name] = err.Error()
		logging.WithContext(ctx).Warn("overview section failed", logging.String("section", name), logging.Err(err))
	}
	if act.Commits == nil {
		act.Commits = []models.Commit{}
	}
	if act.Contributors == nil {
		act.Contributors = []models.Contributor{}
	}
	if act.Events == nil {
		act.Events = []models.Event{}
	}
	if len(act.Errors) == 4 {
		return nil, fmt.Errorf("overview %s: %w", s.Ref, commitsErr)
	}
	return &act, nil
}
