package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swapisticated/Astro-Repo/internal/github"
	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/prompt"
	"github.com/swapisticated/Astro-Repo/internal/session"
	"github.com/swapisticated/Astro-Repo/internal/universe"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/tree"
)

// openRepo starts a local session for the repository argument.
func openRepo(ctx context.Context, arg string) (*session.Session, error) {
	ref, err := github.ParseRepoURL(arg)
	if err != nil {
		return nil, err
	}
	if branch != "" {
		ref.Branch = branch
	}
	s := session.New("cli", ref, github.NewFromConfig(cfg), llm.NewFromConfig(cfg), nil, session.OptionsFromConfig(cfg))
	if err := s.Expand(ctx, ""); err != nil {
		return nil, err
	}
	return s, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	path := strings.Trim(targetPath, "/")
	if err := s.Reveal(ctx, path); err != nil {
		return err
	}
	if _, err := s.ExpandDepth(ctx, path, expandDepth); err != nil {
		return err
	}

	depth := outlineDepth(expandDepth)
	out := cmd.OutOrStdout()
	err = s.View(path, func(n *models.Node) error {
		fmt.Fprint(out, prompt.BuildOutline(n, depth, math.MaxInt))
		return nil
	})
	if err != nil {
		return err
	}
	st := s.Stats()
	fmt.Fprintf(out, "\n%d files, %d folders (%d not fetched), %s\n", st.Files, st.Folders, st.Unfetched, tree.HumanSize(st.Bytes))
	return nil
}

// outlineDepth is the outline depth that shows every level ExpandDepth
// loaded for expand, plus the children of the deepest one.
func outlineDepth(expand int) int {
	if expand < 0 {
		return math.MaxInt
	}
	return expand + 1
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := s.ExpandDepth(ctx, "", expandDepth); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), s.Graph(graphDepth))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	path := strings.Trim(args[1], "/")
	if err := s.Reveal(ctx, path); err != nil {
		return err
	}
	res, err := s.AnalyzeFile(ctx, path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\n%s\n\n", path, res.Summary)
	for _, it := range res.Items {
		fmt.Fprintf(out, "  %-10s %-30s %s\n", it.Type, it.Name, it.Description)
	}
	return nil
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	path := strings.Trim(args[1], "/")
	if err := s.Reveal(ctx, path); err != nil {
		return err
	}
	_, summary, err := s.Summarize(ctx, path)
	if err != nil {
		if !llm.IsProviderError(err) {
			return err
		}
		summary = llm.PlaceholderFor(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	path := strings.Trim(targetPath, "/")
	if err := s.Reveal(ctx, path); err != nil {
		return err
	}
	answer, err := s.Ask(ctx, path, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := s.ExpandDepth(ctx, "", expandDepth); err != nil {
		return err
	}
	path, found, err := s.FindFile(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(cmd.OutOrStdout(), "no matching file")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runOverview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openRepo(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := s.ExpandDepth(ctx, "", expandDepth); err != nil {
		return err
	}
	ov, err := s.Overview(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", ov.Repo)
	if ov.Info != nil {
		if ov.Info.Description != "" {
			fmt.Fprintf(out, "%s\n", ov.Info.Description)
		}
		fmt.Fprintf(out, "%s, %d stars, %d forks, default branch %s\n", ov.Info.Language, ov.Info.Stars, ov.Info.Forks, ov.Info.Default)
	}
	fmt.Fprintf(out, "%d files, %d folders, %s\n", ov.Stats.Files, ov.Stats.Folders, ov.Size)
	fmt.Fprintln(out, "\nLatest commits:")
	for _, c := range ov.Commits {
		sha := c.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		fmt.Fprintf(out, "  %s %-16s %s\n", sha, c.Author, c.Message)
	}
	fmt.Fprintln(out, "\nTop contributors:")
	for _, c := range ov.Contributors {
		fmt.Fprintf(out, "  %-20s %d\n", c.Login, c.Contributions)
	}
	fmt.Fprintln(out, "\nRecent activity:")
	for _, e := range ov.Events {
		fmt.Fprintf(out, "  %s %-20s %s\n", e.CreatedAt.Format("2006-01-02"), e.Type, e.Actor)
	}
	for section, msg := range ov.Errors {
		fmt.Fprintf(out, "\n%s unavailable: %s\n", section, msg)
	}
	return nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	user := args[0]
	svc := universe.New(github.NewFromConfig(cfg), llm.NewFromConfig(cfg))
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		repos, err := svc.Repos(ctx, user)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d repositories\nLanguages: %s\n\n", user, len(repos), strings.Join(universe.Languages(repos), ", "))
		for _, r := range repos {
			fmt.Fprintf(out, "  %-30s %-12s %5d stars\n", r.Name, r.Language, r.Stars)
		}
		return nil
	}

	kind, err := prompt.ParseTargetKind(profileKind)
	if err != nil || !kind.IsProfile() {
		return fmt.Errorf("unknown --kind %q (want user, language or repository)", profileKind)
	}
	answer, err := svc.Ask(ctx, user, prompt.ProfileTarget{Kind: kind, Name: profileName}, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, answer)
	return nil
}
