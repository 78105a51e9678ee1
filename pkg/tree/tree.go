// Package tree provides utilities for building and working with the canonical
// repository tree.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/swapisticated/Astro-Repo/pkg/models"
)

var (
	// ErrInvalidEntry is matched by every *InvalidEntryError.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrNotFound is returned when a path does not resolve in the tree.
	ErrNotFound = errors.New("node not found")
	// ErrNotFolder is returned when children are merged into a file.
	ErrNotFolder = errors.New("node is not a folder")
)

// InvalidEntryError describes a provider entry that cannot become a Node.
type InvalidEntryError struct {
	ParentPath string
	Index      int
	Entry      models.Entry
	Err        error
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid entry %d under %q: %v", e.Index, e.ParentPath, e.Err)
}

func (e *InvalidEntryError) Unwrap() error { return e.Err }

func (e *InvalidEntryError) Is(target error) bool { return target == ErrInvalidEntry }

// Normalize converts provider entries listed under parentPath into Nodes.
// Output order matches input order. The first entry lacking a name or path
// fails the whole call.
func Normalize(entries []models.Entry, parentPath string) ([]*models.Node, error) {
	nodes := make([]*models.Node, 0, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, &InvalidEntryError{ParentPath: parentPath, Index: i, Entry: e, Err: err}
		}
		nodes = append(nodes, fromEntry(e))
	}
	return nodes, nil
}

// NormalizeLenient is Normalize that skips invalid entries instead of
// failing. The skipped entries are reported as a joined error alongside the
// nodes that were kept.
func NormalizeLenient(entries []models.Entry, parentPath string) ([]*models.Node, error) {
	nodes := make([]*models.Node, 0, len(entries))
	var errs []error
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, &InvalidEntryError{ParentPath: parentPath, Index: i, Entry: e, Err: err})
			continue
		}
		nodes = append(nodes, fromEntry(e))
	}
	return nodes, errors.Join(errs...)
}

func fromEntry(e models.Entry) *models.Node {
	kind := models.KindFile
	if e.Kind == models.EntryDir {
		kind = models.KindFolder
	}
	return &models.Node{
		Name:        e.Name,
		Kind:        kind,
		Path:        e.Path,
		Size:        e.Size,
		DownloadURL: e.DownloadURL,
	}
}

// NewRoot creates the unfetched root folder of a repository tree.
func NewRoot(name string) *models.Node {
	return &models.Node{Name: name, Kind: models.KindFolder, Path: ""}
}

// MergeChildren installs children under the folder at path. The children
// slice is replaced in one assignment so readers never see a half-merged
// folder. A child that matches a previously loaded child by path and kind
// keeps that child's loaded state.
func MergeChildren(root *models.Node, path string, children []*models.Node) error {
	target := FindByPath(root, path)
	if target == nil {
		return fmt.Errorf("merge %q: %w", path, ErrNotFound)
	}
	if !target.IsFolder() {
		return fmt.Errorf("merge %q: %w", path, ErrNotFolder)
	}

	previous := make(map[string]*models.Node, len(target.Children))
	for _, c := range target.Children {
		previous[c.Path] = c
	}

	merged := make([]*models.Node, len(children))
	for i, c := range children {
		if old, ok := previous[c.Path]; ok && old.Kind == c.Kind {
			carryState(c, old)
		}
		merged[i] = c
	}
	target.Children = merged
	return nil
}

func carryState(dst, src *models.Node) {
	if dst.IsFolder() {
		dst.Children = src.Children
		if dst.Size == 0 {
			dst.Size = src.Size
		}
	}
	if src.ContentLoaded {
		dst.Content = src.Content
		dst.ContentLoaded = true
	}
	dst.Summary = src.Summary
	dst.Symbols = src.Symbols
	dst.Analyzed = src.Analyzed
}

// FindByPath resolves a path in the tree (recursive).
func FindByPath(root *models.Node, path string) *models.Node {
	if root == nil {
		return nil
	}
	if root.Path == path {
		return root
	}
	for _, child := range root.Children {
		if child.Path != path && !strings.HasPrefix(path, child.Path+"/") {
			continue
		}
		if found := FindByPath(child, path); found != nil {
			return found
		}
	}
	return nil
}

// CountNodes counts all nodes in a tree.
func CountNodes(root *models.Node) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}

// BuildChildPath constructs a child path from parent + name. The root has
// the empty path, so its children are bare names.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "" || parentPath == "/" {
		return name
	}
	return parentPath + "/" + name
}

// Flatten returns all nodes in a flat map keyed by path.
func Flatten(root *models.Node) map[string]*models.Node {
	result := make(map[string]*models.Node)
	if root == nil {
		return result
	}
	flattenRecursive(root, result)
	return result
}

func flattenRecursive(node *models.Node, result map[string]*models.Node) {
	result[node.Path] = node
	for _, child := range node.Children {
		flattenRecursive(child, result)
	}
}

// FilePaths lists the paths of loaded files in pre-order, stopping after
// limit paths. A limit <= 0 means no limit.
func FilePaths(root *models.Node, limit int) []string {
	var paths []string
	var walk func(n *models.Node) bool
	walk = func(n *models.Node) bool {
		if !n.IsFolder() {
			paths = append(paths, n.Path)
			return limit <= 0 || len(paths) < limit
		}
		for _, c := range n.Children {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if root != nil {
		walk(root)
	}
	return paths
}

// AggregateSizes sets every loaded folder's size to the sum of its loaded
// descendant files and returns the root total. Unfetched folders count as 0.
func AggregateSizes(root *models.Node) int64 {
	if root == nil {
		return 0
	}
	if !root.IsFolder() {
		return root.Size
	}
	var total int64
	for _, c := range root.Children {
		total += AggregateSizes(c)
	}
	root.Size = total
	return total
}

// Stats summarizes the currently loaded part of a tree.
type Stats struct {
	Files     int   `json:"files"`
	Folders   int   `json:"folders"`
	Unfetched int   `json:"unfetched_folders"`
	Bytes     int64 `json:"bytes"`
}

// Collect walks the loaded tree and counts files, folders and bytes.
func Collect(root *models.Node) Stats {
	var s Stats
	var walk func(n *models.Node)
	walk = func(n *models.Node) {
		if !n.IsFolder() {
			s.Files++
			s.Bytes += n.Size
			return
		}
		s.Folders++
		if !n.Loaded() {
			s.Unfetched++
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return s
}

// HumanSize formats a byte count the way the overview displays it.
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
