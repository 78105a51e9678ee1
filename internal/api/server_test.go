package api

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/swapisticated/Astro-Repo/internal/events"
	"github.com/swapisticated/Astro-Repo/internal/github"
	"github.com/swapisticated/Astro-Repo/internal/graph"
	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/session"
	"github.com/swapisticated/Astro-Repo/internal/universe"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/protocol"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

type fakeSource struct {
	listings map[string][]models.Entry
	files    map[string]string
}

func (f *fakeSource) ListChildren(_ context.Context, ref models.RepoRef, path string) ([]models.Entry, error) {
	if ref.Repo == "missing" {
		return nil, &github.StatusError{Op: "list_children", StatusCode: http.StatusNotFound}
	}
	entries, ok := f.listings[path]
	if !ok {
		return nil, &github.StatusError{Op: "list_children", StatusCode: http.StatusNotFound}
	}
	return entries, nil
}

func (f *fakeSource) FetchContent(_ context.Context, _ models.RepoRef, path string) (string, error) {
	text, ok := f.files[path]
	if !ok {
		return "", &github.StatusError{Op: "fetch_content", StatusCode: http.StatusNotFound}
	}
	return text, nil
}

// RateLimit reports a fixed upstream budget.
func (f *fakeSource) RateLimit() (int, time.Time) {
	return 42, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func (f *fakeSource) Repo(_ context.Context, ref models.RepoRef) (*models.RepoInfo, error) {
	return &models.RepoInfo{Name: ref.Repo, Stars: 4}, nil
}

func (f *fakeSource) Commits(context.Context, models.RepoRef, int) ([]models.Commit, error) {
	return []models.Commit{{SHA: "abc", Message: "init"}}, nil
}

func (f *fakeSource) Contributors(context.Context, models.RepoRef, int) ([]models.Contributor, error) {
	return []models.Contributor{{Login: "ann"}}, nil
}

func (f *fakeSource) Events(context.Context, models.RepoRef, int) ([]models.Event, error) {
	return nil, nil
}

func (f *fakeSource) UserRepos(_ context.Context, user string) ([]models.RepoInfo, error) {
	return []models.RepoInfo{{Name: "hello", Language: "Go", Stars: 4}}, nil
}

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (f *fakeLLM) set(reply string, err error) {
	f.mu.Lock()
	f.reply, f.err = reply, err
	f.mu.Unlock()
}

func (f *fakeLLM) Complete(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeLLM) Ask(context.Context, string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return llm.PlaceholderFor(f.err)
	}
	return f.reply
}

func testServer(t *testing.T) (*httptest.Server, *fakeLLM) {
	t.Helper()
	src := &fakeSource{
		listings: map[string][]models.Entry{
			"": {
				{Kind: models.EntryDir, Path: "src", Name: "src"},
				{Kind: models.EntryFile, Path: "README.md", Name: "README.md", Size: 10},
			},
			"src": {
				{Kind: models.EntryFile, Path: "src/main.go", Name: "main.go", Size: 30},
			},
		},
		files: map[string]string{
			"README.md":   "# hello\n",
			"src/main.go": "package main\n",
		},
	}
	gen := &fakeLLM{reply: "ok"}
	b := events.NewBroadcaster()
	opts := session.DefaultOptions()
	srv := NewServer(Deps{
		Sessions:    session.NewManager(src, gen, b, opts),
		Source:      src,
		LLM:         gen,
		Profiles:    universe.New(src, gen),
		Broadcaster: b,
		Options:     opts,
		GraphDepth:  2,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, gen
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func openSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := do(t, "POST", ts.URL+"/api/v1/sessions", `{"url":"https://github.com/octo/hello","branch":"main"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: status %d", resp.StatusCode)
	}
	var out protocol.SessionResponse
	decodeBody(t, resp, &out)
	return out.ID
}

func TestHealth(t *testing.T) {
	ts, _ := testServer(t)
	resp := do(t, "GET", ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}

	var body struct {
		Status        string `json:"status"`
		Sessions      int    `json:"sessions"`
		Subscribers   int    `json:"subscribers"`
		RateRemaining *int   `json:"upstream_rate_remaining"`
		RateReset     string `json:"upstream_rate_reset"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "ok" || body.Sessions != 0 || body.Subscribers != 0 {
		t.Errorf("health = %+v", body)
	}
	if body.RateRemaining == nil || *body.RateRemaining != 42 || body.RateReset != "2026-01-02T03:04:05Z" {
		t.Errorf("rate limit = %v %q", body.RateRemaining, body.RateReset)
	}
}

func TestFailureCarriesRequestID(t *testing.T) {
	ts, _ := testServer(t)
	id := openSession(t, ts)

	req, _ := http.NewRequest("GET", ts.URL+"/api/v1/sessions/"+id+"/tree?path=nope", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var er protocol.ErrorResponse
	decodeBody(t, resp, &er)
	if resp.StatusCode != http.StatusNotFound || er.RequestID != "req-42" {
		t.Errorf("status %d, error %+v", resp.StatusCode, er)
	}
}

func TestOpenSession(t *testing.T) {
	ts, _ := testServer(t)

	resp := do(t, "POST", ts.URL+"/api/v1/sessions", `{"owner":"octo","repo":"hello","branch":"main"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var raw struct {
		ID   string         `json:"id"`
		Repo models.RepoRef `json:"repo"`
		Root struct {
			Children []struct {
				Name     string             `json:"name"`
				Children *[]json.RawMessage `json:"children"`
			} `json:"children"`
		} `json:"root"`
	}
	decodeBody(t, resp, &raw)
	if raw.ID == "" || raw.Repo.Branch != "main" {
		t.Errorf("response = %+v", raw)
	}
	if len(raw.Root.Children) != 2 {
		t.Fatalf("root children = %d", len(raw.Root.Children))
	}
	// Unfetched folder encodes children as null.
	if raw.Root.Children[0].Name != "src" || raw.Root.Children[0].Children != nil {
		t.Errorf("src should be unfetched: %+v", raw.Root.Children[0])
	}
}

func TestOpenSession_Errors(t *testing.T) {
	ts, _ := testServer(t)

	tests := []struct {
		body string
		want int
	}{
		{body: `{}`, want: http.StatusBadRequest},
		{body: `{"owner":"octo"}`, want: http.StatusBadRequest},
		{body: `{"url":"nonsense"}`, want: http.StatusBadRequest},
		{body: `{"owner":"octo","repo":"missing"}`, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := do(t, "POST", ts.URL+"/api/v1/sessions", tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status %d, want %d", tt.body, resp.StatusCode, tt.want)
		}
	}
}

func TestExpandAndTree(t *testing.T) {
	ts, _ := testServer(t)
	id := openSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	resp := do(t, "POST", base+"/expand", `{"path":"/src"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expand: status %d", resp.StatusCode)
	}
	var tr protocol.TreeResponse
	decodeBody(t, resp, &tr)
	if tr.Root.Path != "src" || len(tr.Root.Children) != 1 {
		t.Errorf("expanded = %+v", tr.Root)
	}

	req, _ := http.NewRequest("GET", base+"/tree", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	gresp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer gresp.Body.Close()
	if gresp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatal("expected gzip response")
	}
	gr, err := gzip.NewReader(gresp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var full protocol.TreeResponse
	if err := json.NewDecoder(gr).Decode(&full); err != nil {
		t.Fatal(err)
	}
	if full.Root.Children[0].Children[0].Path != "src/main.go" {
		t.Errorf("tree = %+v", full.Root)
	}

	if resp := do(t, "POST", base+"/expand", `{"path":"README.md"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expand file: status %d", resp.StatusCode)
	}
	if resp := do(t, "GET", base+"/tree?path=nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path: status %d", resp.StatusCode)
	}
}

func TestGraph(t *testing.T) {
	ts, _ := testServer(t)
	id := openSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	resp := do(t, "GET", base+"/graph", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var g graph.Graph
	decodeBody(t, resp, &g)
	if len(g.Nodes) != 3 || len(g.Links) != 2 {
		t.Errorf("graph = %d nodes %d links", len(g.Nodes), len(g.Links))
	}

	if resp := do(t, "GET", base+"/graph?depth=all", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("depth=all: status %d", resp.StatusCode)
	}
	if resp := do(t, "GET", base+"/graph?depth=deep", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad depth: status %d", resp.StatusCode)
	}
}

func TestAnalyze(t *testing.T) {
	ts, gen := testServer(t)
	id := openSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	gen.set(`{"summary":"Docs.","items":[{"name":"hello","type":"COMPONENT","description":"title"}]}`, nil)
	resp := do(t, "POST", base+"/analyze", `{"path":"README.md"}`)
	var ar protocol.AnalysisResponse
	decodeBody(t, resp, &ar)
	if resp.StatusCode != http.StatusOK || ar.Result == nil || ar.Result.Summary != "Docs." {
		t.Errorf("analyze: %d %+v", resp.StatusCode, ar)
	}

	if r := do(t, "POST", base+"/expand", `{"path":"src"}`); r.StatusCode != http.StatusOK {
		t.Fatalf("expand: status %d", r.StatusCode)
	}
	gen.set("not json", nil)
	resp = do(t, "POST", base+"/analyze", `{"path":"src/main.go"}`)
	ar = protocol.AnalysisResponse{}
	decodeBody(t, resp, &ar)
	if resp.StatusCode != http.StatusOK || ar.Result != nil || ar.Error == "" {
		t.Errorf("unstructured: %d %+v", resp.StatusCode, ar)
	}

	if resp := do(t, "POST", base+"/analyze", `{"path":"src"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("folder: status %d", resp.StatusCode)
	}
}

func TestSummarizePlaceholder(t *testing.T) {
	ts, gen := testServer(t)
	id := openSession(t, ts)

	gen.set("", &llm.StatusError{StatusCode: http.StatusTooManyRequests})
	resp := do(t, "POST", ts.URL+"/api/v1/sessions/"+id+"/summarize", `{"path":"README.md"}`)
	var sr protocol.SummaryResponse
	decodeBody(t, resp, &sr)
	if resp.StatusCode != http.StatusOK || sr.Summary != llm.PlaceholderRateLimited || sr.Kind != "FILE" {
		t.Errorf("summarize: %d %+v", resp.StatusCode, sr)
	}
}

func TestAskAndFind(t *testing.T) {
	ts, gen := testServer(t)
	id := openSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	if resp := do(t, "POST", base+"/ask", `{"path":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing question: status %d", resp.StatusCode)
	}

	gen.set("A tiny repo.", nil)
	resp := do(t, "POST", base+"/ask", `{"path":"","question":"What is this?"}`)
	var ans protocol.AnswerResponse
	decodeBody(t, resp, &ans)
	if ans.Answer != "A tiny repo." {
		t.Errorf("answer = %q", ans.Answer)
	}

	gen.set("`README.md`", nil)
	resp = do(t, "POST", base+"/find", `{"query":"docs"}`)
	var fr protocol.FindResponse
	decodeBody(t, resp, &fr)
	if !fr.Found || fr.Path != "README.md" {
		t.Errorf("find = %+v", fr)
	}
}

func TestOverviewAndClose(t *testing.T) {
	ts, _ := testServer(t)
	id := openSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	resp := do(t, "GET", base+"/overview", "")
	var ov session.Overview
	decodeBody(t, resp, &ov)
	if ov.Repo != "octo/hello@main" || len(ov.Commits) != 1 || ov.Events == nil {
		t.Errorf("overview = %+v", ov)
	}

	if resp := do(t, "DELETE", base, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close: status %d", resp.StatusCode)
	}
	if resp := do(t, "GET", base+"/tree", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("closed session: status %d", resp.StatusCode)
	}
	if resp := do(t, "DELETE", base, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close: status %d", resp.StatusCode)
	}
}

func TestChildren(t *testing.T) {
	ts, _ := testServer(t)

	resp := do(t, "GET", ts.URL+"/api/v1/children?owner=octo&repo=hello&path=src", "")
	var cr protocol.ChildrenResponse
	decodeBody(t, resp, &cr)
	if len(cr.Items) != 1 || cr.Items[0].Path != "src/main.go" {
		t.Errorf("children = %+v", cr)
	}

	if resp := do(t, "GET", ts.URL+"/api/v1/children?owner=octo", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing repo: status %d", resp.StatusCode)
	}
	if resp := do(t, "GET", ts.URL+"/api/v1/children?owner=octo&repo=hello&path=nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("upstream 404: status %d", resp.StatusCode)
	}
}

func TestFileSummary(t *testing.T) {
	ts, gen := testServer(t)

	if resp := do(t, "POST", ts.URL+"/api/v1/file-summary", `{"owner":"octo"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing params: status %d", resp.StatusCode)
	}

	gen.set("Greets the reader.", nil)
	resp := do(t, "POST", ts.URL+"/api/v1/file-summary", `{"owner":"octo","repo":"hello","path":"README.md"}`)
	var fs protocol.FileSummaryResponse
	decodeBody(t, resp, &fs)
	if fs.Summary != "Greets the reader." {
		t.Errorf("summary = %+v", fs)
	}

	gen.set("", &llm.StatusError{StatusCode: http.StatusInternalServerError})
	resp = do(t, "POST", ts.URL+"/api/v1/file-summary", `{"owner":"octo","repo":"hello","path":"README.md"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("llm failure: status %d", resp.StatusCode)
	}
}

func TestProfileAsk(t *testing.T) {
	ts, gen := testServer(t)
	gen.set("Writes Go.", nil)

	resp := do(t, "POST", ts.URL+"/api/v1/profile/ask", `{"user":"octo","target":{"kind":"language","name":"Go"},"question":"Which?"}`)
	var ans protocol.AnswerResponse
	decodeBody(t, resp, &ans)
	if resp.StatusCode != http.StatusOK || ans.Answer != "Writes Go." {
		t.Errorf("profile: %d %+v", resp.StatusCode, ans)
	}

	tests := []struct {
		kind string
		want int
	}{
		{"USER", http.StatusOK},
		{"repo", http.StatusOK},
		{"Language", http.StatusOK},
		{"planet", http.StatusBadRequest},
		{"file", http.StatusBadRequest},
	}
	for _, tt := range tests {
		body := `{"user":"octo","target":{"kind":"` + tt.kind + `","name":"hello"},"question":"?"}`
		resp := do(t, "POST", ts.URL+"/api/v1/profile/ask", body)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("kind %q: status %d, want %d", tt.kind, resp.StatusCode, tt.want)
		}
	}
	if resp := do(t, "POST", ts.URL+"/api/v1/profile/ask", `{"user":"octo","target":{"kind":"repository","name":"nope"},"question":"?"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown repo: status %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	ts, _ := testServer(t)
	id := openSession(t, ts)
	base := ts.URL + "/api/v1/sessions/" + id

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", base+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	if r := do(t, "POST", base+"/expand", `{"path":"src"}`); r.StatusCode != http.StatusOK {
		t.Fatalf("expand: status %d", r.StatusCode)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		defer close(lines)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream ended")
			}
			if line == "event: "+events.EventExpand {
				return
			}
		case <-ctx.Done():
			t.Fatal("no expand event")
		}
	}
}

func TestUnknownSession(t *testing.T) {
	ts, _ := testServer(t)
	resp := do(t, "GET", ts.URL+"/api/v1/sessions/nope/graph", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d", resp.StatusCode)
	}
	var er protocol.ErrorResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &er); err != nil || er.Code != http.StatusNotFound {
		t.Errorf("error body %s", body)
	}
}
