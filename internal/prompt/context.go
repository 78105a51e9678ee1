package prompt

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// TargetKind tags what a question is about. Each tag has its own rule for
// assembling context.
type TargetKind string

const (
	TargetFile       TargetKind = "FILE"
	TargetFolder     TargetKind = "FOLDER"
	TargetUser       TargetKind = "USER"
	TargetLanguage   TargetKind = "LANGUAGE"
	TargetRepository TargetKind = "REPO"
)

// IsProfile reports whether k names a node of a user's profile graph rather
// than a repository node.
func (k TargetKind) IsProfile() bool {
	return k == TargetUser || k == TargetLanguage || k == TargetRepository
}

// ParseTargetKind accepts the lower- or upper-case tag names.
func ParseTargetKind(s string) (TargetKind, error) {
	switch strings.ToUpper(s) {
	case "FILE":
		return TargetFile, nil
	case "FOLDER":
		return TargetFolder, nil
	case "USER":
		return TargetUser, nil
	case "LANGUAGE":
		return TargetLanguage, nil
	case "REPO", "REPOSITORY":
		return TargetRepository, nil
	}
	return "", fmt.Errorf("unknown target kind %q", s)
}

// Context is the per-request material embedded in a prompt.
type Context struct {
	TargetPath string
	TargetName string
	TargetKind TargetKind

	LocalOutline  string
	GlobalOutline string

	Excerpt          string
	ContentAvailable bool

	// Profile is the rendered block for user, language and repository targets.
	Profile string
}

// Options bounds the context built for tree targets.
type Options struct {
	MaxDepth   int
	MaxItems   int
	CharBudget int
}

// DefaultOptions returns the question-sized limits.
func DefaultOptions() Options {
	return Options{MaxDepth: DefaultMaxDepth, MaxItems: DefaultMaxItems, CharBudget: QuestionCharBudget}
}

// ForNode builds the context for a file or folder. Folders get an outline;
// files get their content excerpt. When root is given the whole-repository
// outline is added as global context.
func ForNode(node, root *models.Node, opts Options) Context {
	c := Context{TargetPath: node.Path, TargetName: node.Name}
	if node.IsFolder() {
		c.TargetKind = TargetFolder
		c.LocalOutline = BuildOutline(node, opts.MaxDepth, opts.MaxItems)
	} else {
		c.TargetKind = TargetFile
		c.Excerpt, c.ContentAvailable = BuildContentExcerpt(node, opts.CharBudget)
	}
	if root != nil {
		c.GlobalOutline = BuildOutline(root, opts.MaxDepth, opts.MaxItems)
	}
	return c
}

// ErrUnknownTarget is returned for profile targets that cannot be resolved.
var ErrUnknownTarget = errors.New("prompt: unknown target")

// ProfileTarget names a node of a user's repository universe.
type ProfileTarget struct {
	Kind TargetKind
	Name string
	// Repo is set for repository targets when the caller already has it.
	Repo *models.RepoInfo
}

// ForProfile builds the context for a user, language or repository target
// from the user's public repositories.
func ForProfile(target ProfileTarget, repos []models.RepoInfo) (Context, error) {
	c := Context{TargetName: target.Name, TargetKind: target.Kind}
	switch target.Kind {
	case TargetUser:
		c.Profile = userProfile(repos)
	case TargetLanguage:
		c.Profile = languageProfile(target.Name, repos)
	case TargetRepository:
		repo := target.Repo
		if repo == nil {
			i := slices.IndexFunc(repos, func(r models.RepoInfo) bool { return r.Name == target.Name })
			if i < 0 {
				return c, fmt.Errorf("%w: repository %q", ErrUnknownTarget, target.Name)
			}
			repo = &repos[i]
		}
		c.Profile = repoProfile(repo)
	default:
		return c, fmt.Errorf("%w: kind %q is not a profile target", ErrUnknownTarget, target.Kind)
	}
	return c, nil
}

func userProfile(repos []models.RepoInfo) string {
	stars := 0
	var languages []string
	for _, r := range repos {
		stars += r.Stars
		if r.Language != "" && !slices.Contains(languages, r.Language) {
			languages = append(languages, r.Language)
		}
	}

	top := slices.Clone(repos)
	slices.SortStableFunc(top, func(a, b models.RepoInfo) int { return cmp.Compare(b.Stars, a.Stars) })
	if len(top) > 5 {
		top = top[:5]
	}
	names := make([]string, len(top))
	for i, r := range top {
		names[i] = fmt.Sprintf("%s (%d stars)", r.Name, r.Stars)
	}

	var b strings.Builder
	b.WriteString("User Context:\n")
	fmt.Fprintf(&b, "- Total Repositories: %d\n", len(repos))
	fmt.Fprintf(&b, "- Total Stars: %d\n", stars)
	fmt.Fprintf(&b, "- Languages: %s\n", strings.Join(languages, ", "))
	fmt.Fprintf(&b, "- Top Repositories: %s\n", strings.Join(names, ", "))
	return b.String()
}

func languageProfile(language string, repos []models.RepoInfo) string {
	stars := 0
	var names []string
	for _, r := range repos {
		if r.Language != language {
			continue
		}
		stars += r.Stars
		names = append(names, r.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Language Context (%s):\n", language)
	fmt.Fprintf(&b, "- Total Repositories: %d\n", len(names))
	fmt.Fprintf(&b, "- Total Stars: %d\n", stars)
	fmt.Fprintf(&b, "- Repositories: %s\n", strings.Join(names, ", "))
	return b.String()
}

func repoProfile(r *models.RepoInfo) string {
	desc := r.Description
	if desc == "" {
		desc = "N/A"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Repository Context (%s):\n", r.Name)
	fmt.Fprintf(&b, "- Description: %s\n", desc)
	fmt.Fprintf(&b, "- Language: %s\n", r.Language)
	fmt.Fprintf(&b, "- Stars: %d\n", r.Stars)
	fmt.Fprintf(&b, "- Forks: %d\n", r.Forks)
	fmt.Fprintf(&b, "- Open Issues: %d\n", r.OpenIssues)
	fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Last Updated: %s\n", r.UpdatedAt.Format("2006-01-02"))
	return b.String()
}
