// Astro CLI
//
// Explore a GitHub repository from the terminal: print its tree, project it
// as a graph, and ask the configured LLM about files, folders and profiles.
//
// Sub-commands:
//
//	astro tree <repo>                 Print the repository outline
//	astro graph <repo>                Print the graph projection as JSON
//	astro analyze <repo> <file>       Structured analysis of one file
//	astro summarize <repo> <path>     Prose summary of a file or folder
//	astro ask <repo> <question>       Ask about the repository or --path
//	astro find <repo> <query>         Find the most relevant file
//	astro overview <repo>             Commits, contributors, activity, stats
//	astro profile <user> [question]   Ask about a user's repositories
//	astro version                     Print the version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
