package api

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/prompt"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/protocol"
)

// ─── Children ───────────────────────────────────────────────────────────────

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := models.RepoRef{Owner: q.Get("owner"), Repo: q.Get("repo"), Branch: q.Get("branch")}
	if err := ref.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, "owner and repo are required")
		return
	}

	items, err := s.source.ListChildren(r.Context(), ref, strings.Trim(q.Get("path"), "/"))
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	if items == nil {
		items = []models.Entry{}
	}
	s.sendJSON(w, http.StatusOK, protocol.ChildrenResponse{Items: items})
}

// ─── File summary ───────────────────────────────────────────────────────────

func (s *Server) handleFileSummary(w http.ResponseWriter, r *http.Request) {
	var req protocol.FileSummaryRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	ref := models.RepoRef{Owner: req.Owner, Repo: req.Repo, Branch: req.Branch}
	content, err := s.source.FetchContent(r.Context(), ref, req.Path)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	node := &models.Node{
		Name:          path.Base(req.Path),
		Kind:          models.KindFile,
		Path:          req.Path,
		Content:       content,
		ContentLoaded: true,
	}
	pc := prompt.ForNode(node, nil, prompt.Options{CharBudget: s.opts.AnalysisCharBudget})
	text, err := prompt.Format(prompt.Request{Task: prompt.TaskFileSummary, Context: pc, Branch: req.Branch})
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	summary, err := s.llm.Complete(r.Context(), text)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, llm.PlaceholderFor(err))
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.FileSummaryResponse{Path: req.Path, Summary: strings.TrimSpace(summary)})
}

// ─── Profile questions ──────────────────────────────────────────────────────

func (s *Server) handleProfileAsk(w http.ResponseWriter, r *http.Request) {
	var req protocol.ProfileAskRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	kind, err := prompt.ParseTargetKind(req.Target.Kind)
	if err != nil || !kind.IsProfile() {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid target kind %q", req.Target.Kind))
		return
	}

	target := prompt.ProfileTarget{Kind: kind, Name: req.Target.Name}
	answer, err := s.profiles.Ask(r.Context(), req.User, target, req.Question)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.AnswerResponse{Answer: answer})
}
