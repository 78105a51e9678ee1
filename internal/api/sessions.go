package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/swapisticated/Astro-Repo/internal/github"
	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/response"
	"github.com/swapisticated/Astro-Repo/internal/session"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/protocol"
)

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// marshalNode encodes wrap(node) while the session's read lock is held.
func marshalNode(sess *session.Session, path string, wrap func(n *models.Node) any) ([]byte, error) {
	var data []byte
	err := sess.View(path, func(n *models.Node) error {
		var err error
		data, err = json.Marshal(wrap(n))
		return err
	})
	return data, err
}

func cleanPath(p string) string {
	return strings.Trim(p, "/")
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.OpenSessionRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "url or owner and repo required")
		return
	}

	ref := models.RepoRef{Owner: req.Owner, Repo: req.Repo}
	if req.URL != "" {
		parsed, err := github.ParseRepoURL(req.URL)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		ref = parsed
	}
	if req.Branch != "" {
		ref.Branch = req.Branch
	}

	sess, err := s.sessions.Open(r.Context(), ref)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	data, err := marshalNode(sess, "", func(n *models.Node) any {
		return protocol.SessionResponse{ID: sess.ID, Repo: sess.Ref, Root: n}
	})
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID)
	w.WriteHeader(http.StatusCreated)
	w.Write(data)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		s.sendError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.sendSubtree(w, r, sess, cleanPath(r.URL.Query().Get("path")))
}

func (s *Server) sendSubtree(w http.ResponseWriter, r *http.Request, sess *session.Session, path string) {
	data, err := marshalNode(sess, path, func(n *models.Node) any {
		return protocol.TreeResponse{Root: n}
	})
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendRaw(w, r, data)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req protocol.PathRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path := cleanPath(req.Path)
	if err := sess.Expand(r.Context(), path); err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendSubtree(w, r, sess, path)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	depth := s.graphDepth
	switch v := r.URL.Query().Get("depth"); v {
	case "":
	case "all":
		depth = -1
	default:
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "depth must be an integer or \"all\"")
			return
		}
		depth = n
	}

	data, err := json.Marshal(sess.Graph(depth))
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendRaw(w, r, data)
}

// ─── Analysis ───────────────────────────────────────────────────────────────

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req protocol.PathRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path := cleanPath(req.Path)

	result, err := sess.AnalyzeFile(r.Context(), path)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusOK, protocol.AnalysisResponse{Path: path, Result: result})
	case errors.Is(err, response.ErrNotStructured):
		// Unusable model output is an absent result, not a failed request.
		s.sendJSON(w, http.StatusOK, protocol.AnalysisResponse{Path: path, Error: "analysis unavailable"})
	case llm.IsProviderError(err):
		s.sendJSON(w, http.StatusOK, protocol.AnalysisResponse{Path: path, Error: llm.PlaceholderFor(err)})
	default:
		s.sendFailure(w, r, err)
	}
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req protocol.PathRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path := cleanPath(req.Path)

	kind, summary, err := sess.Summarize(r.Context(), path)
	if err != nil {
		if !llm.IsProviderError(err) {
			s.sendFailure(w, r, err)
			return
		}
		summary = llm.PlaceholderFor(err)
	}
	s.sendJSON(w, http.StatusOK, protocol.SummaryResponse{Path: path, Kind: string(kind), Summary: summary})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req protocol.AskRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "question required")
		return
	}

	answer, err := sess.Ask(r.Context(), cleanPath(req.Path), req.Question)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.AnswerResponse{Answer: answer})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req protocol.FindRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "query required")
		return
	}

	path, found, err := sess.FindFile(r.Context(), req.Query)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.FindResponse{Path: path, Found: found})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ov, err := sess.Overview(r.Context())
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ov)
}
