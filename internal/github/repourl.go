package github

import (
	"fmt"
	"strings"

	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// ParseRepoURL accepts "https://github.com/owner/repo", "github.com/owner/repo"
// or "owner/repo", with an optional ".git" suffix or "/tree/<branch>" tail.
func ParseRepoURL(s string) (models.RepoRef, error) {
	rest := strings.TrimSpace(s)
	for _, prefix := range []string{"https://", "http://"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	rest = strings.TrimPrefix(rest, "www.")
	rest = strings.TrimPrefix(rest, "github.com/")
	rest = strings.Trim(rest, "/")

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return models.RepoRef{}, fmt.Errorf("not a repository reference: %q", s)
	}
	ref := models.RepoRef{Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}
	if len(parts) >= 4 && parts[2] == "tree" {
		ref.Branch = strings.Join(parts[3:], "/")
	}
	return ref, nil
}
