package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// Default outline and excerpt limits.
const (
	DefaultMaxDepth = 2
	DefaultMaxItems = 50

	// AnalysisCharBudget bounds file content sent for structured analysis.
	AnalysisCharBudget = 40000
	// QuestionCharBudget bounds file content sent with a question.
	QuestionCharBudget = 30000
)

// BuildOutline renders node and its loaded descendants as an indented list,
// one "- name (KIND)" line per node. At most maxItems node lines are
// written; marker lines stand in for what was left out:
//
//	... (N items truncated)   children skipped because the item cap was hit
//	... (K items)             a loaded folder at maxDepth that was not opened
func BuildOutline(node *models.Node, maxDepth, maxItems int) string {
	if node == nil || maxItems <= 0 {
		return ""
	}
	var b strings.Builder
	count := 0
	writeOutline(&b, node, 0, maxDepth, maxItems, &count)
	return b.String()
}

func writeOutline(b *strings.Builder, node *models.Node, depth, maxDepth, maxItems int, count *int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s- %s (%s)\n", indent, node.Name, node.Kind)
	*count++

	if len(node.Children) == 0 {
		return
	}
	if depth >= maxDepth {
		fmt.Fprintf(b, "%s  ... (%d items)\n", indent, len(node.Children))
		return
	}
	for i, child := range node.Children {
		if *count >= maxItems {
			fmt.Fprintf(b, "%s  ... (%d items truncated)\n", indent, len(node.Children)-i)
			return
		}
		writeOutline(b, child, depth+1, maxDepth, maxItems, count)
	}
}

// Excerpt cuts text to at most limit bytes. The cut is not word-aware; it
// only backs off far enough to avoid splitting a UTF-8 sequence.
func Excerpt(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// BuildContentExcerpt returns the node's loaded content cut to budget, and
// false when no content has been loaded.
func BuildContentExcerpt(node *models.Node, budget int) (string, bool) {
	if node == nil || !node.ContentLoaded {
		return "", false
	}
	return Excerpt(node.Content, budget), true
}
