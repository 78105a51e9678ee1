// Package github is the source-tree provider: it lists repository folders,
// fetches file content and reads repository metadata from the GitHub REST API.
package github

import (
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/swapisticated/Astro-Repo/internal/config"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/pkg/models"
	"github.com/swapisticated/Astro-Repo/pkg/retry"
)

var (
	// ErrNotFound is matched by 404 status errors.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is matched by 429 responses and 403 responses with an
	// exhausted rate limit.
	ErrRateLimited = errors.New("github rate limit exceeded")
)

// StatusError keeps the upstream status so callers can tell "not found"
// from "rate limited" from "server error".
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
	Exhausted  bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: github returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: github returned %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode == http.StatusForbidden && e.Exhausted)
	}
	return false
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Client talks to the GitHub REST API with retry on server errors.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	token       string

	mu            sync.RWMutex
	rateRemaining int
	rateReset     time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Token       string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig:   cfg.RetryConfig,
		token:         cfg.Token,
		rateRemaining: -1,
	}
}

// NewFromConfig creates a client for the configured API endpoint.
func NewFromConfig(cfg *config.Config) *Client {
	return New(Config{
		BaseURL: cfg.GitHubAPIURL,
		Timeout: cfg.GitHubTimeout,
		Token:   cfg.GitHubToken,
	})
}

// RateLimit returns the last seen remaining request budget and reset time.
// Remaining is -1 before the first response.
func (c *Client) RateLimit() (int, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateRemaining, c.rateReset
}

func (c *Client) trackRate(h http.Header) {
	rem, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	reset, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	c.mu.Lock()
	c.rateRemaining = rem
	if reset > 0 {
		c.rateReset = time.Unix(reset, 0)
	}
	c.mu.Unlock()
}

// getJSON performs a GET against the API and decodes the body into out.
// Transport failures and 5xx responses are retried.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordTreeFetch(op, 0, time.Since(start))
			return retry.Retryable(fmt.Errorf("%s: %w", op, err))
		}
		defer resp.Body.Close()

		c.trackRate(resp.Header)
		metrics.RecordTreeFetch(op, resp.StatusCode, time.Since(start))

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return fmt.Errorf("%s: gzip: %w", op, err)
			}
			defer gr.Close()
			reader = gr
		}

		if resp.StatusCode != http.StatusOK {
			se := &StatusError{Op: op, StatusCode: resp.StatusCode, Exhausted: resp.Header.Get("X-RateLimit-Remaining") == "0"}
			var apiErr struct {
				Message string `json:"message"`
			}
			if json.NewDecoder(io.LimitReader(reader, 64<<10)).Decode(&apiErr) == nil {
				se.Message = apiErr.Message
			}
			if resp.StatusCode >= 500 {
				return retry.Retryable(se)
			}
			return se
		}

		if err := json.NewDecoder(reader).Decode(out); err != nil {
			return fmt.Errorf("%s: decode: %w", op, err)
		}
		return nil
	})
}

func repoPath(ref models.RepoRef, parts ...string) string {
	p := "/repos/" + url.PathEscape(ref.Owner) + "/" + url.PathEscape(ref.Repo)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func refQuery(ref models.RepoRef) url.Values {
	q := url.Values{}
	if ref.Branch != "" {
		q.Set("ref", ref.Branch)
	}
	return q
}

// contentItem is one element of a contents API response.
type contentItem struct {
	models.Entry
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// ListChildren lists the folder at path ("" is the repository root). When
// path names a file the single file entry is returned.
func (c *Client) ListChildren(ctx context.Context, ref models.RepoRef, path string) ([]models.Entry, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "list_children", repoPath(ref, "contents", escapePath(path)), refQuery(ref), &raw); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var items []models.Entry
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("list_children: decode: %w", err)
		}
		if items == nil {
			items = []models.Entry{}
		}
		return items, nil
	}

	var item models.Entry
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("list_children: decode: %w", err)
	}
	return []models.Entry{item}, nil
}

// FetchContent returns the decoded text of the file at path. Files too large
// for inline content are read from their download URL.
func (c *Client) FetchContent(ctx context.Context, ref models.RepoRef, path string) (string, error) {
	var item contentItem
	if err := c.getJSON(ctx, "fetch_content", repoPath(ref, "contents", escapePath(path)), refQuery(ref), &item); err != nil {
		return "", err
	}
	if item.Kind != "" && item.Kind != models.EntryFile {
		return "", fmt.Errorf("fetch_content %q: not a file (%s)", path, item.Kind)
	}

	if item.Encoding == "base64" && item.Content != "" {
		data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(item.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("fetch_content %q: decode base64: %w", path, err)
		}
		return string(data), nil
	}
	if item.DownloadURL == "" {
		return "", nil
	}
	logging.WithContext(ctx).Debug("content not inline, using download url",
		logging.String("path", path), logging.Int64("size", item.Size))
	return c.download(ctx, item.DownloadURL)
}

func (c *Client) download(ctx context.Context, rawURL string) (string, error) {
	var text string
	err := retry.Do(ctx, c.retryConfig, func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("download: %w", err))
		}
		defer resp.Body.Close()
		metrics.RecordTreeFetch("download", resp.StatusCode, time.Since(start))

		if resp.StatusCode != http.StatusOK {
			se := &StatusError{Op: "download", StatusCode: resp.StatusCode}
			if resp.StatusCode >= 500 {
				return retry.Retryable(se)
			}
			return se
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(fmt.Errorf("download: %w", err))
		}
		text = string(data)
		return nil
	})
	return text, err
}

// Repo returns repository metadata.
func (c *Client) Repo(ctx context.Context, ref models.RepoRef) (*models.RepoInfo, error) {
	var info models.RepoInfo
	if err := c.getJSON(ctx, "repo", repoPath(ref), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UserRepos lists a user's public repositories, most recently updated first.
func (c *Client) UserRepos(ctx context.Context, user string) ([]models.RepoInfo, error) {
	q := url.Values{"per_page": {"100"}, "sort": {"updated"}}
	var repos []models.RepoInfo
	if err := c.getJSON(ctx, "user_repos", "/users/"+url.PathEscape(user)+"/repos", q, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// Commits returns the latest n commits on the ref's branch.
func (c *Client) Commits(ctx context.Context, ref models.RepoRef, n int) ([]models.Commit, error) {
	q := url.Values{"per_page": {strconv.Itoa(n)}}
	if ref.Branch != "" {
		q.Set("sha", ref.Branch)
	}
	var raw []struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
		Commit  struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
		Author *struct {
			Login string `json:"login"`
		} `json:"author"`
	}
	if err := c.getJSON(ctx, "commits", repoPath(ref, "commits"), q, &raw); err != nil {
		return nil, err
	}

	commits := make([]models.Commit, 0, len(raw))
	for _, r := range raw {
		author := r.Commit.Author.Name
		if r.Author != nil && r.Author.Login != "" {
			author = r.Author.Login
		}
		msg, _, _ := strings.Cut(r.Commit.Message, "\n")
		commits = append(commits, models.Commit{
			SHA:     r.SHA,
			Message: msg,
			Author:  author,
			Date:    r.Commit.Author.Date,
			URL:     r.HTMLURL,
		})
	}
	return commits, nil
}

// Contributors returns the top n contributors.
func (c *Client) Contributors(ctx context.Context, ref models.RepoRef, n int) ([]models.Contributor, error) {
	q := url.Values{"per_page": {strconv.Itoa(n)}}
	var out []models.Contributor
	if err := c.getJSON(ctx, "contributors", repoPath(ref, "contributors"), q, &out); err != nil {
		return nil, err
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Events returns the n most recent repository events.
func (c *Client) Events(ctx context.Context, ref models.RepoRef, n int) ([]models.Event, error) {
	q := url.Values{"per_page": {strconv.Itoa(n)}}
	var raw []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Actor struct {
			Login string `json:"login"`
		} `json:"actor"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := c.getJSON(ctx, "events", repoPath(ref, "events"), q, &raw); err != nil {
		return nil, err
	}
	events := make([]models.Event, 0, len(raw))
	for _, r := range raw {
		events = append(events, models.Event{ID: r.ID, Type: r.Type, Actor: r.Actor.Login, CreatedAt: r.CreatedAt})
	}
	return events, nil
}
