// Package models contains the data types shared by the tree, graph and
// query pipeline.
package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// EntryKind is the raw item kind reported by the source-tree provider.
type EntryKind string

const (
	EntryDir  EntryKind = "dir"
	EntryFile EntryKind = "file"
)

// Entry is one item of a provider directory listing. It only lives long
// enough to be normalized into a Node.
type Entry struct {
	Kind        EntryKind `json:"type"`
	Path        string    `json:"path" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	Size        int64     `json:"size" validate:"gte=0"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// Validate checks that the entry carries the fields a Node needs.
func (e Entry) Validate() error {
	return validate.Struct(e)
}

// NodeKind distinguishes folders from files in the canonical tree.
type NodeKind string

const (
	KindFolder NodeKind = "FOLDER"
	KindFile   NodeKind = "FILE"
)

// Node is a vertex of the canonical repository tree.
//
// Children == nil means the folder has not been fetched yet; a non-nil empty
// slice means it was fetched and has no children. The two encode differently
// in JSON (null vs []).
type Node struct {
	Name        string   `json:"name"`
	Kind        NodeKind `json:"type"`
	Path        string   `json:"path"`
	Size        int64    `json:"size,omitempty"`
	Children    []*Node  `json:"children"`
	DownloadURL string   `json:"download_url,omitempty"`

	Content       string         `json:"-"`
	ContentLoaded bool           `json:"content_loaded,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Symbols       []AnalysisItem `json:"symbols,omitempty"`
	Analyzed      bool           `json:"analyzed,omitempty"`
}

// IsFolder reports whether n is a folder.
func (n *Node) IsFolder() bool { return n.Kind == KindFolder }

// Loaded reports whether a folder's children have been fetched.
func (n *Node) Loaded() bool { return n.Children != nil }

// SymbolType is the category of a symbol found by structured analysis.
type SymbolType string

const (
	SymbolFunction  SymbolType = "FUNCTION"
	SymbolClass     SymbolType = "CLASS"
	SymbolComponent SymbolType = "COMPONENT"
)

// AnalysisItem is one symbol reported by a structured file analysis.
type AnalysisItem struct {
	Name        string     `json:"name" validate:"required"`
	Type        SymbolType `json:"type" validate:"required,oneof=FUNCTION CLASS COMPONENT"`
	Description string     `json:"description"`
}

// AnalysisResult is the parsed output of a structured file analysis.
type AnalysisResult struct {
	Summary string         `json:"summary" validate:"required"`
	Items   []AnalysisItem `json:"items" validate:"required,dive"`
}

// Validate checks the analysis shape, including every item.
func (r *AnalysisResult) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("analysis result: %w", err)
	}
	return nil
}

// RepoRef identifies a repository and the branch being browsed.
type RepoRef struct {
	Owner  string `json:"owner" validate:"required"`
	Repo   string `json:"repo" validate:"required"`
	Branch string `json:"branch,omitempty"`
}

func (r RepoRef) String() string {
	if r.Branch == "" {
		return r.Owner + "/" + r.Repo
	}
	return r.Owner + "/" + r.Repo + "@" + r.Branch
}

// Validate checks that owner and repo are present.
func (r RepoRef) Validate() error {
	return validate.Struct(r)
}

// RepoInfo is repository metadata used by profile questions and overviews.
type RepoInfo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	OpenIssues  int       `json:"open_issues_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HTMLURL     string    `json:"html_url"`
	Default     string    `json:"default_branch"`
}

// Commit is a condensed commit record for the repository overview.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	URL     string    `json:"url"`
}

// Contributor is a repository contributor with their commit count.
type Contributor struct {
	Login         string `json:"login"`
	AvatarURL     string `json:"avatar_url"`
	Contributions int    `json:"contributions"`
	HTMLURL       string `json:"html_url"`
}

// Event is a recent repository activity item.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
