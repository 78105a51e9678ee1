// Package session holds one repository's canonical tree for the lifetime of
// a client session and runs the query pipeline against it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swapisticated/Astro-Repo/internal/cache"
	"github.com/swapisticated/Astro-Repo/internal/config"
	"github.com/swapisticated/Astro-Repo/internal/events"
	"github.com/swapisticated/Astro-Repo/internal/graph"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/internal/prompt"
	"github.com/swapisticated/Astro-Repo/internal/response"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/protocol"
	"github.com/swapisticated/Astro-Repo/pkg/tree"
)

// ErrWrongKind is returned when an operation gets a folder where it needs a
// file, or the other way round.
var ErrWrongKind = errors.New("wrong node kind")

// TreeSource lists folders and reads files from a repository.
type TreeSource interface {
	ListChildren(ctx context.Context, ref models.RepoRef, path string) ([]models.Entry, error)
	FetchContent(ctx context.Context, ref models.RepoRef, path string) (string, error)
}

// ActivitySource reads the repository metadata shown by Overview.
type ActivitySource interface {
	Repo(ctx context.Context, ref models.RepoRef) (*models.RepoInfo, error)
	Commits(ctx context.Context, ref models.RepoRef, n int) ([]models.Commit, error)
	Contributors(ctx context.Context, ref models.RepoRef, n int) ([]models.Contributor, error)
	Events(ctx context.Context, ref models.RepoRef, n int) ([]models.Event, error)
}

// Source is everything a session needs from the repository host.
type Source interface {
	TreeSource
	ActivitySource
}

// Generator is the completion client. Complete reports failures; Ask always
// returns displayable text.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Ask(ctx context.Context, prompt string) string
}

// Publisher receives session events.
type Publisher interface {
	Publish(sessionID string, event protocol.SSEEvent)
	CloseSession(sessionID string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, protocol.SSEEvent) {}
func (nopPublisher) CloseSession(string)               {}

// Options bounds the prompt context a session builds.
type Options struct {
	OutlineMaxDepth    int
	OutlineMaxItems    int
	AnalysisCharBudget int
	QuestionCharBudget int
	FindPathLimit      int
}

// DefaultOptions returns the stock prompt limits.
func DefaultOptions() Options {
	return Options{
		OutlineMaxDepth:    prompt.DefaultMaxDepth,
		OutlineMaxItems:    prompt.DefaultMaxItems,
		AnalysisCharBudget: prompt.AnalysisCharBudget,
		QuestionCharBudget: prompt.QuestionCharBudget,
		FindPathLimit:      1000,
	}
}

// OptionsFromConfig reads the prompt limits from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutlineMaxDepth:    cfg.OutlineMaxDepth,
		OutlineMaxItems:    cfg.OutlineMaxItems,
		AnalysisCharBudget: cfg.AnalysisCharBudget,
		QuestionCharBudget: cfg.QuestionCharBudget,
		FindPathLimit:      cfg.FindPathLimit,
	}
}

// Session owns a repository tree. It is the only writer of that tree; every
// merge happens under mu so readers see whole subtrees.
type Session struct {
	ID      string
	Ref     models.RepoRef
	Created time.Time

	mu   sync.RWMutex
	root *models.Node

	src    Source
	llm    Generator
	events Publisher
	opts   Options

	listings *cache.Cache[[]models.Entry]
	texts    *cache.Cache[string]
	analyses *cache.Cache[*models.AnalysisResult]
	activity *cache.Cache[*Activity]
}

// New creates a session with an unfetched root. Call Expand with "" to load
// the top level.
func New(id string, ref models.RepoRef, src Source, gen Generator, pub Publisher, opts Options) *Session {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Session{
		ID:       id,
		Ref:      ref,
		Created:  time.Now(),
		root:     tree.NewRoot(ref.Repo),
		src:      src,
		llm:      gen,
		events:   pub,
		opts:     opts,
		listings: cache.New[[]models.Entry](),
		texts:    cache.New[string](),
		analyses: cache.New[*models.AnalysisResult](),
		activity: cache.New[*Activity](),
	}
}

func (s *Session) publish(typ, path, detail string) {
	s.events.Publish(s.ID, protocol.SSEEvent{Type: typ, Path: path, Detail: detail})
}

// View calls fn with the node at path while holding the read lock. fn must
// not keep the node after it returns.
func (s *Session) View(path string, fn func(n *models.Node) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := tree.FindByPath(s.root, path)
	if n == nil {
		return fmt.Errorf("%q: %w", path, tree.ErrNotFound)
	}
	return fn(n)
}

// kindOf resolves path and reports whether it is a folder.
func (s *Session) kindOf(path string) (isFolder, loaded bool, err error) {
	err = s.View(path, func(n *models.Node) error {
		isFolder, loaded = n.IsFolder(), n.Loaded()
		return nil
	})
	return
}

// Expand fetches the children of the folder at path and merges them into
// the tree. Already loaded folders are not fetched again.
func (s *Session) Expand(ctx context.Context, path string) error {
	isFolder, loaded, err := s.kindOf(path)
	if err != nil {
		return err
	}
	if !isFolder {
		return fmt.Errorf("expand %q: %w", path, ErrWrongKind)
	}
	if loaded {
		return nil
	}
	return s.fetchAndMerge(ctx, path)
}

// Reveal expands every ancestor folder of path so the node at path is in
// the tree.
func (s *Session) Reveal(ctx context.Context, path string) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	dir := ""
	for _, name := range parts[:len(parts)-1] {
		if err := s.Expand(ctx, dir); err != nil {
			return err
		}
		dir = tree.BuildChildPath(dir, name)
	}
	return s.Expand(ctx, dir)
}

// ExpandDepth expands the folder at path and its descendant folders down to
// depth levels below it, fetching up to four folders at a time. A negative
// depth expands the whole subtree. It returns the number of folders expanded.
func (s *Session) ExpandDepth(ctx context.Context, path string, depth int) (int, error) {
	expanded := 0
	level := []string{path}
	for d := 0; (depth < 0 || d <= depth) && len(level) > 0; d++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, p := range level {
			g.Go(func() error { return s.Expand(gctx, p) })
		}
		if err := g.Wait(); err != nil {
			return expanded, err
		}
		expanded += len(level)

		var next []string
		for _, p := range level {
			_ = s.View(p, func(n *models.Node) error {
				for _, c := range n.Children {
					if c.IsFolder() {
						next = append(next, c.Path)
					}
				}
				return nil
			})
		}
		level = next
	}
	return expanded, nil
}

// Refresh refetches the folder at path. Children that are still present keep
// their loaded content and analysis.
func (s *Session) Refresh(ctx context.Context, path string) error {
	s.listings.Delete(cache.Key{Kind: cache.KindChildren, ID: path})
	return s.fetchAndMerge(ctx, path)
}

func (s *Session) fetchAndMerge(ctx context.Context, path string) error {
	log := logging.WithContext(ctx)
	key := cache.Key{Kind: cache.KindChildren, ID: path}
	entries, err := s.listings.GetOrLoad(ctx, key, func(ctx context.Context) ([]models.Entry, error) {
		return s.src.ListChildren(ctx, s.Ref, path)
	})
	if err != nil {
		s.publish(events.EventError, path, err.Error())
		return fmt.Errorf("expand %q: %w", path, err)
	}

	nodes, invalid := tree.NormalizeLenient(entries, path)
	if invalid != nil {
		n := 1
		if joined, ok := invalid.(interface{ Unwrap() []error }); ok {
			n = len(joined.Unwrap())
		}
		metrics.RecordInvalidEntries(n)
		log.Warn("skipped invalid entries", logging.String("path", path), logging.Int("count", n), logging.Err(invalid))
	}

	s.mu.Lock()
	err = tree.MergeChildren(s.root, path, nodes)
	if err == nil {
		tree.AggregateSizes(s.root)
	}
	total := tree.CountNodes(s.root)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.ObserveTreeNodes(total)
	log.Debug("folder expanded", logging.String("path", path), logging.Int("children", len(nodes)), logging.Int("tree_nodes", total))
	s.publish(events.EventExpand, path, fmt.Sprintf("%d children", len(nodes)))
	return nil
}

// Graph projects the loaded tree. A negative depth projects everything.
func (s *Session) Graph(depth int) graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return graph.Project(s.root, depth)
}

// Stats counts the loaded part of the tree.
func (s *Session) Stats() tree.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tree.Collect(s.root)
}

// LoadContent fetches the text of the file at path once and stores it on
// the node.
func (s *Session) LoadContent(ctx context.Context, path string) (string, error) {
	var (
		content string
		done    bool
	)
	err := s.View(path, func(n *models.Node) error {
		if n.IsFolder() {
			return fmt.Errorf("load %q: %w", path, ErrWrongKind)
		}
		content, done = n.Content, n.ContentLoaded
		return nil
	})
	if err != nil || done {
		return content, err
	}

	content, err = s.texts.GetOrLoad(ctx, cache.Key{Kind: cache.KindContent, ID: path}, func(ctx context.Context) (string, error) {
		return s.src.FetchContent(ctx, s.Ref, path)
	})
	if err != nil {
		s.publish(events.EventError, path, err.Error())
		return "", fmt.Errorf("load %q: %w", path, err)
	}

	s.mu.Lock()
	if n := tree.FindByPath(s.root, path); n != nil {
		n.Content = content
		n.ContentLoaded = true
	}
	s.mu.Unlock()
	s.publish(events.EventContent, path, "")
	return content, nil
}

// context builds prompt context for path under the read lock.
func (s *Session) context(path string, opts prompt.Options, global bool) (prompt.Context, error) {
	var pc prompt.Context
	err := s.View(path, func(n *models.Node) error {
		var root *models.Node
		if global {
			root = s.root
		}
		pc = prompt.ForNode(n, root, opts)
		return nil
	})
	return pc, err
}

func (s *Session) outlineOptions(budget int) prompt.Options {
	return prompt.Options{MaxDepth: s.opts.OutlineMaxDepth, MaxItems: s.opts.OutlineMaxItems, CharBudget: budget}
}

// AnalyzeFile asks for a structured analysis of the file at path. The
// summary and symbols are stored on the node, which is then marked Analyzed.
func (s *Session) AnalyzeFile(ctx context.Context, path string) (*models.AnalysisResult, error) {
	return s.analyses.GetOrLoad(ctx, cache.Key{Kind: cache.KindAnalysis, ID: path}, func(ctx context.Context) (*models.AnalysisResult, error) {
		if _, err := s.LoadContent(ctx, path); err != nil {
			return nil, err
		}
		pc, err := s.context(path, s.outlineOptions(s.opts.AnalysisCharBudget), false)
		if err != nil {
			return nil, err
		}
		text, err := prompt.Format(prompt.Request{Task: prompt.TaskFileAnalysis, Context: pc})
		if err != nil {
			return nil, err
		}
		reply, err := s.llm.Complete(ctx, text)
		if err != nil {
			s.publish(events.EventError, path, err.Error())
			return nil, fmt.Errorf("analyze %q: %w", path, err)
		}
		result, err := response.ParseStructured(reply)
		if err != nil {
			logging.WithContext(ctx).Warn("analysis not structured", logging.String("path", path), logging.Err(err))
			s.publish(events.EventError, path, err.Error())
			return nil, fmt.Errorf("analyze %q: %w", path, err)
		}

		s.mu.Lock()
		if n := tree.FindByPath(s.root, path); n != nil {
			n.Summary = result.Summary
			n.Symbols = result.Items
			n.Analyzed = true
		}
		s.mu.Unlock()
		s.publish(events.EventAnalysis, path, fmt.Sprintf("%d items", len(result.Items)))
		return result, nil
	})
}

// SummarizeFile returns a prose summary of the file at path, labelled with
// the session's branch.
func (s *Session) SummarizeFile(ctx context.Context, path string) (string, error) {
	return s.texts.GetOrLoad(ctx, cache.Key{Kind: cache.KindSummary, ID: path}, func(ctx context.Context) (string, error) {
		if _, err := s.LoadContent(ctx, path); err != nil {
			return "", err
		}
		pc, err := s.context(path, s.outlineOptions(s.opts.AnalysisCharBudget), false)
		if err != nil {
			return "", err
		}
		return s.complete(ctx, path, prompt.Request{Task: prompt.TaskFileSummary, Context: pc, Branch: s.Ref.Branch})
	})
}

// SummarizeFolder returns a short description of the folder at path from
// its outline, expanding it first when needed.
func (s *Session) SummarizeFolder(ctx context.Context, path string) (string, error) {
	return s.texts.GetOrLoad(ctx, cache.Key{Kind: cache.KindSummary, ID: path}, func(ctx context.Context) (string, error) {
		if err := s.Expand(ctx, path); err != nil {
			return "", err
		}
		pc, err := s.context(path, s.outlineOptions(0), false)
		if err != nil {
			return "", err
		}
		return s.complete(ctx, path, prompt.Request{Task: prompt.TaskFolderSummary, Context: pc})
	})
}

// Summarize dispatches on the node kind at path.
func (s *Session) Summarize(ctx context.Context, path string) (models.NodeKind, string, error) {
	isFolder, _, err := s.kindOf(path)
	if err != nil {
		return "", "", err
	}
	if isFolder {
		text, err := s.SummarizeFolder(ctx, path)
		return models.KindFolder, text, err
	}
	text, err := s.SummarizeFile(ctx, path)
	return models.KindFile, text, err
}

func (s *Session) complete(ctx context.Context, path string, req prompt.Request) (string, error) {
	text, err := prompt.Format(req)
	if err != nil {
		return "", err
	}
	reply, err := s.llm.Complete(ctx, text)
	if err != nil {
		s.publish(events.EventError, path, err.Error())
		return "", fmt.Errorf("%s %q: %w", req.Task, path, err)
	}
	s.publish(events.EventSummary, path, "")
	return strings.TrimSpace(reply), nil
}

// Ask answers a question about the node at path with the repository outline
// as global context. Provider failures come back as placeholder text; only
// an unknown path or an empty question is an error.
func (s *Session) Ask(ctx context.Context, path, question string) (string, error) {
	isFolder, _, err := s.kindOf(path)
	if err != nil {
		return "", err
	}
	if !isFolder {
		if _, err := s.LoadContent(ctx, path); err != nil {
			logging.WithContext(ctx).Warn("asking without content", logging.String("path", path), logging.Err(err))
		}
	}
	pc, err := s.context(path, s.outlineOptions(s.opts.QuestionCharBudget), true)
	if err != nil {
		return "", err
	}
	text, err := prompt.Format(prompt.Request{Task: prompt.TaskQuestion, Context: pc, Question: question})
	if err != nil {
		return "", err
	}
	answer := s.llm.Ask(ctx, text)
	s.publish(events.EventAnswer, path, "")
	return answer, nil
}

// FindFile asks which loaded file best matches query. The answer is only
// accepted when it names a file in the tree.
func (s *Session) FindFile(ctx context.Context, query string) (string, bool, error) {
	s.mu.RLock()
	paths := tree.FilePaths(s.root, s.opts.FindPathLimit)
	s.mu.RUnlock()
	if len(paths) == 0 {
		return "", false, nil
	}

	text, err := prompt.Format(prompt.Request{Task: prompt.TaskFindFile, Question: query, Paths: paths})
	if err != nil {
		return "", false, err
	}
	answer, ok := response.ParsePathAnswer(s.llm.Ask(ctx, text))
	if !ok {
		return "", false, nil
	}
	answer = strings.TrimPrefix(answer, "/")

	found := false
	_ = s.View(answer, func(n *models.Node) error {
		found = !n.IsFolder()
		return nil
	})
	if !found && !strings.Contains(answer, "/") {
		if p, ok := s.fileNamed(answer); ok {
			answer, found = p, true
		}
	}
	if !found {
		logging.WithContext(ctx).Debug("find answer not in tree", logging.String("answer", answer))
		return "", false, nil
	}
	return answer, true, nil
}

// fileNamed resolves a bare file name to the only loaded file carrying it.
func (s *Session) fileNamed(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match := ""
	for p, n := range tree.Flatten(s.root) {
		if n.IsFolder() || n.Name != name {
			continue
		}
		if match != "" {
			return "", false
		}
		match = p
	}
	return match, match != ""
}

// Close drops every cached result.
func (s *Session) Close() int {
	n := s.listings.Clear() + s.texts.Clear() + s.analyses.Clear() + s.activity.Clear()
	s.events.CloseSession(s.ID)
	return n
}
