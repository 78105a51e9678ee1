// Package protocol defines the API request/response types.
package protocol

import (
	"github.com/swapisticated/Astro-Repo/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// TreeResponse is returned by GET /api/v1/sessions/{id}/tree
type TreeResponse struct {
	Root *models.Node `json:"root"`
}

// ChildrenResponse is returned by GET /api/v1/children
type ChildrenResponse struct {
	Items []models.Entry `json:"items"`
}

// FileSummaryRequest is the body for POST /api/v1/file-summary.
type FileSummaryRequest struct {
	Owner  string `json:"owner" validate:"required"`
	Repo   string `json:"repo" validate:"required"`
	Path   string `json:"path" validate:"required"`
	Branch string `json:"branch,omitempty"`
}

// FileSummaryResponse carries a prose summary.
type FileSummaryResponse struct {
	Path    string `json:"path"`
	Summary string `json:"summary"`
}

// OpenSessionRequest is the body for POST /api/v1/sessions. Either URL or
// Owner and Repo must be set.
type OpenSessionRequest struct {
	URL    string `json:"url,omitempty" validate:"required_without_all=Owner Repo"`
	Owner  string `json:"owner,omitempty" validate:"required_without=URL"`
	Repo   string `json:"repo,omitempty" validate:"required_without=URL"`
	Branch string `json:"branch,omitempty"`
}

// SessionResponse is returned when a session is opened.
type SessionResponse struct {
	ID   string         `json:"id"`
	Repo models.RepoRef `json:"repo"`
	Root *models.Node   `json:"root"`
}

// PathRequest is the body for expand, analyze and summarize.
type PathRequest struct {
	Path string `json:"path"`
}

// AnalysisResponse is returned by POST /api/v1/sessions/{id}/analyze.
// Result is null when the model output could not be used.
type AnalysisResponse struct {
	Path   string                 `json:"path"`
	Result *models.AnalysisResult `json:"result"`
	Error  string                 `json:"error,omitempty"`
}

// SummaryResponse is returned by POST /api/v1/sessions/{id}/summarize.
type SummaryResponse struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

// AskRequest is the body for POST /api/v1/sessions/{id}/ask.
type AskRequest struct {
	Path     string `json:"path"`
	Question string `json:"question" validate:"required"`
}

// AnswerResponse carries a free-text answer.
type AnswerResponse struct {
	Answer string `json:"answer"`
}

// FindRequest is the body for POST /api/v1/sessions/{id}/find.
type FindRequest struct {
	Query string `json:"query" validate:"required"`
}

// FindResponse is returned by POST /api/v1/sessions/{id}/find. Path is
// empty when no usable answer came back.
type FindResponse struct {
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
}

// ProfileTarget names the node a profile question is about.
type ProfileTarget struct {
	Kind string `json:"kind" validate:"required"` // user, language or repo(sitory), any case
	Name string `json:"name"`
}

// ProfileAskRequest is the body for POST /api/v1/profile/ask.
type ProfileAskRequest struct {
	User     string        `json:"user" validate:"required"`
	Target   ProfileTarget `json:"target"`
	Question string        `json:"question" validate:"required"`
}

// SSEEvent represents a server-sent session event.
type SSEEvent struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
