// Package universe answers questions about a GitHub user's repository
// universe: the user, one of their languages, or one of their repositories.
package universe

import (
	"context"
	"fmt"
	"strings"

	"github.com/swapisticated/Astro-Repo/internal/cache"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/prompt"
	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// RepoLister fetches a user's public repositories.
type RepoLister interface {
	UserRepos(ctx context.Context, user string) ([]models.RepoInfo, error)
}

// Asker is the non-failing completion path.
type Asker interface {
	Ask(ctx context.Context, prompt string) string
}

// Service answers profile questions. Repository lists are cached per user
// for the lifetime of the service.
type Service struct {
	repos RepoLister
	llm   Asker
	cache *cache.Cache[[]models.RepoInfo]
}

// New creates a profile question service.
func New(repos RepoLister, llm Asker) *Service {
	return &Service{repos: repos, llm: llm, cache: cache.New[[]models.RepoInfo]()}
}

// Repos returns the public repositories of user.
func (s *Service) Repos(ctx context.Context, user string) ([]models.RepoInfo, error) {
	key := cache.Key{Kind: cache.KindProfile, ID: strings.ToLower(user)}
	return s.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]models.RepoInfo, error) {
		return s.repos.UserRepos(ctx, user)
	})
}

// Ask answers question about target within user's universe. An empty target
// name for a user target means the user itself. Provider failures come back
// as placeholder text.
func (s *Service) Ask(ctx context.Context, user string, target prompt.ProfileTarget, question string) (string, error) {
	repos, err := s.Repos(ctx, user)
	if err != nil {
		return "", fmt.Errorf("profile %q: %w", user, err)
	}
	if target.Kind == prompt.TargetUser && target.Name == "" {
		target.Name = user
	}

	pc, err := prompt.ForProfile(target, repos)
	if err != nil {
		return "", err
	}
	text, err := prompt.Format(prompt.Request{Task: prompt.TaskProfileQuestion, Context: pc, Question: question})
	if err != nil {
		return "", err
	}

	logging.WithContext(ctx).Debug("profile question",
		logging.String("user", user),
		logging.String("target_kind", string(target.Kind)),
		logging.String("target", target.Name),
		logging.Int("repos", len(repos)),
	)
	return s.llm.Ask(ctx, text), nil
}

// Languages lists the distinct languages of repos in first-seen order.
func Languages(repos []models.RepoInfo) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range repos {
		if r.Language == "" || seen[r.Language] {
			continue
		}
		seen[r.Language] = true
		out = append(out, r.Language)
	}
	return out
}
