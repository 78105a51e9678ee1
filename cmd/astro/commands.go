package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/swapisticated/Astro-Repo/internal/config"
	"github.com/swapisticated/Astro-Repo/internal/logging"
)

// --- Global Command Variables ---
var (
	configPath  string
	verbose     bool
	branch      string
	expandDepth int
	targetPath  string
	graphDepth  int
	profileKind string
	profileName string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:           "astro",
		Short:         "Explore a GitHub repository as a graph and ask an LLM about it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				os.Setenv("ASTRO_CONFIG", configPath)
			}
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			if verbose {
				return logging.Init(logging.Config{Level: "debug", Format: "console", OutputPath: "stderr"})
			}
			logging.InitNop()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	treeCmd = &cobra.Command{
		Use:   "tree <repo>",
		Short: "Print the repository outline",
		Args:  cobra.ExactArgs(1),
		RunE:  runTree,
	}
	graphCmd = &cobra.Command{
		Use:   "graph <repo>",
		Short: "Print the graph projection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraph,
	}
	analyzeCmd = &cobra.Command{
		Use:   "analyze <repo> <file>",
		Short: "Structured analysis of one file: summary and main symbols",
		Args:  cobra.ExactArgs(2),
		RunE:  runAnalyze,
	}
	summarizeCmd = &cobra.Command{
		Use:     "summarize <repo> <path>",
		Short:   "Prose summary of a file or folder",
		Aliases: []string{"sum"},
		Args:    cobra.ExactArgs(2),
		RunE:    runSummarize,
	}
	askCmd = &cobra.Command{
		Use:   "ask <repo> <question>",
		Short: "Ask a question about the repository, or about --path",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runAsk,
	}
	findCmd = &cobra.Command{
		Use:   "find <repo> <query>",
		Short: "Find the file most likely to contain what you describe",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runFind,
	}
	overviewCmd = &cobra.Command{
		Use:   "overview <repo>",
		Short: "Latest commits, top contributors, recent activity and tree stats",
		Args:  cobra.ExactArgs(1),
		RunE:  runOverview,
	}
	profileCmd = &cobra.Command{
		Use:   "profile <user> [question]",
		Short: "List a user's repositories, or ask a question about them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runProfile,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("astro " + version)
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (overrides ASTRO_CONFIG)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	pf.StringVarP(&branch, "branch", "b", "", "branch to read (default: repository default)")

	for _, c := range []*cobra.Command{treeCmd, graphCmd, findCmd, overviewCmd} {
		c.Flags().IntVar(&expandDepth, "expand", 2, "folder levels to fetch below the root")
	}
	treeCmd.Flags().StringVarP(&targetPath, "path", "p", "", "folder to print")
	graphCmd.Flags().IntVar(&graphDepth, "depth", -1, "projection depth (-1 for all)")
	askCmd.Flags().StringVarP(&targetPath, "path", "p", "", "file or folder the question is about")

	profileCmd.Flags().StringVar(&profileKind, "kind", "user", "question target: user, language or repository")
	profileCmd.Flags().StringVar(&profileName, "name", "", "language or repository name for --kind")

	rootCmd.AddCommand(treeCmd, graphCmd, analyzeCmd, summarizeCmd, askCmd, findCmd, overviewCmd, profileCmd, versionCmd)
}
