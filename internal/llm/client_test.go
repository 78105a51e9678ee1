package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swapisticated/Astro-Repo/internal/config"
	"github.com/swapisticated/Astro-Repo/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

func geminiOK(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

// fakeGemini answers per model with a scripted sequence of (status, body).
type fakeGemini struct {
	mu      sync.Mutex
	scripts map[string][]reply
	calls   map[string]int
	total   atomic.Int32
}

type reply struct {
	status int
	body   string
}

func newFakeGemini(scripts map[string][]reply) (*fakeGemini, *httptest.Server) {
	f := &fakeGemini{scripts: scripts, calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	return f, srv
}

func (f *fakeGemini) serve(w http.ResponseWriter, r *http.Request) {
	f.total.Add(1)
	model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/models/"), ":generateContent")

	f.mu.Lock()
	script := f.scripts[model]
	i := f.calls[model]
	f.calls[model]++
	f.mu.Unlock()

	if i >= len(script) {
		i = len(script) - 1
	}
	w.WriteHeader(script[i].status)
	io.WriteString(w, script[i].body)
}

func (f *fakeGemini) callsFor(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func testClient(url string, models []string, waits *[]time.Duration) *Client {
	rc := DefaultRetry()
	rc.Sleep = func(_ context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	return New(NewGeminiProvider(url, "test-key", 5*time.Second), models, rc)
}

func TestComplete_Success(t *testing.T) {
	var gotKey, gotPath, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		var req geminiRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotPrompt = req.Contents[0].Parts[0].Text
		io.WriteString(w, geminiOK("a summary"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, []string{"gemini-test"}, nil)
	text, err := c.Complete(context.Background(), "summarize")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "a summary" {
		t.Errorf("text = %q", text)
	}
	if gotKey != "test-key" || gotPath != "/models/gemini-test:generateContent" || gotPrompt != "summarize" {
		t.Errorf("request key=%q path=%q prompt=%q", gotKey, gotPath, gotPrompt)
	}
}

func TestComplete_RateLimitedBackoffFloor(t *testing.T) {
	f, srv := newFakeGemini(map[string][]reply{"m": {{429, `{"error":{"message":"quota"}}`}}})
	defer srv.Close()

	var waits []time.Duration
	c := testClient(srv.URL, []string{"m"}, &waits)
	_, err := c.Complete(context.Background(), "p")

	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if got := f.total.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (no 4th attempt)", got)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i+1, waits[i], want[i])
		}
	}
	var ex *RetriesExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Errorf("RetriesExhaustedError = %+v", ex)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 429 {
		t.Errorf("last status error not reachable: %v", err)
	}
}

func TestNew_NoModelsUsesDefaults(t *testing.T) {
	primary := config.Defaults().LLMModels[0]
	f, srv := newFakeGemini(map[string][]reply{primary: {{200, geminiOK("fine")}}})
	defer srv.Close()

	c := testClient(srv.URL, nil, nil)
	text, err := c.Complete(context.Background(), "p")
	if err != nil || text != "fine" {
		t.Fatalf("Complete with no models = %q, %v", text, err)
	}
	if f.callsFor(primary) != 1 {
		t.Errorf("primary default model called %d times", f.callsFor(primary))
	}
	if got := c.Ask(context.Background(), "p"); got != "fine" {
		t.Errorf("Ask with no models = %q", got)
	}
}

func TestComplete_RetryHint(t *testing.T) {
	f, srv := newFakeGemini(map[string][]reply{"m": {
		{429, `{"error":{"message":"Quota exceeded. Please retry in 12.5s."}}`},
		{200, geminiOK("done")},
	}})
	defer srv.Close()

	var waits []time.Duration
	c := testClient(srv.URL, []string{"m"}, &waits)
	text, err := c.Complete(context.Background(), "p")
	if err != nil || text != "done" {
		t.Fatalf("text=%q err=%v", text, err)
	}
	if len(waits) != 1 || waits[0] != 13500*time.Millisecond {
		t.Errorf("waits = %v, want [13.5s]", waits)
	}
	if f.total.Load() != 2 {
		t.Errorf("attempts = %d", f.total.Load())
	}
}

func TestComplete_HintWordingFallsBackToBackoff(t *testing.T) {
	_, srv := newFakeGemini(map[string][]reply{"m": {
		{429, `{"error":{"message":"Please retry after 30 seconds"}}`},
		{200, geminiOK("ok")},
	}})
	defer srv.Close()

	var waits []time.Duration
	c := testClient(srv.URL, []string{"m"}, &waits)
	if _, err := c.Complete(context.Background(), "p"); err != nil {
		t.Fatal(err)
	}
	if len(waits) != 1 || waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s]", waits)
	}
}

func TestComplete_HardErrorsDoNotRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"server error", 500, "boom", func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode == 500
		}},
		{"unauthorized", 401, "bad key", func(err error) bool { return errors.Is(err, ErrUnauthorized) }},
		{"forbidden", 403, "denied", func(err error) bool { return errors.Is(err, ErrUnauthorized) }},
		{"malformed", 200, `{"candidates":[]}`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"empty text", 200, geminiOK(""), func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeGemini(map[string][]reply{"m": {{tt.status, tt.body}}})
			defer srv.Close()

			var waits []time.Duration
			c := testClient(srv.URL, []string{"m"}, &waits)
			_, err := c.Complete(context.Background(), "p")
			if !tt.check(err) {
				t.Errorf("unexpected err: %v", err)
			}
			if f.total.Load() != 1 || len(waits) != 0 {
				t.Errorf("attempts=%d waits=%v, want a single attempt", f.total.Load(), waits)
			}
		})
	}
}

func TestComplete_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	var waits []time.Duration
	c := testClient(url, []string{"m"}, &waits)
	_, err := c.Complete(context.Background(), "p")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
	if len(waits) != 0 {
		t.Errorf("transport errors must not wait: %v", waits)
	}
}

func TestComplete_ContextCancelledDuringWait(t *testing.T) {
	_, srv := newFakeGemini(map[string][]reply{"m": {{429, "slow down"}}})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rc := DefaultRetry()
	rc.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	c := New(NewGeminiProvider(srv.URL, "k", time.Second), []string{"m"}, rc)
	if _, err := c.Complete(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMissingCredential(t *testing.T) {
	c := New(nil, []string{"m"}, DefaultRetry())
	if _, err := c.Complete(context.Background(), "p"); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Complete err = %v", err)
	}
	got := c.Ask(context.Background(), "p")
	if got != PlaceholderMissingKey || !strings.HasPrefix(got, "Error") {
		t.Errorf("Ask = %q", got)
	}
	if c.Configured() {
		t.Error("Configured() = true without provider")
	}
}

func TestAsk_FallsBackToNextModel(t *testing.T) {
	f, srv := newFakeGemini(map[string][]reply{
		"primary":  {{429, "retry in 1s"}},
		"fallback": {{200, geminiOK("from fallback")}},
	})
	defer srv.Close()

	var waits []time.Duration
	c := testClient(srv.URL, []string{"primary", "fallback"}, &waits)
	if got := c.Ask(context.Background(), "p"); got != "from fallback" {
		t.Errorf("Ask = %q", got)
	}
	if f.callsFor("primary") != 1 || len(waits) != 0 {
		t.Errorf("Ask should try each model once without waiting: calls=%d waits=%v", f.callsFor("primary"), waits)
	}
}

func TestAsk_PlaceholderRanking(t *testing.T) {
	tests := []struct {
		name   string
		first  reply
		second reply
		want   string
	}{
		{"rate limit beats server error", reply{429, "x"}, reply{500, "x"}, PlaceholderRateLimited},
		{"rate limit beats later unauthorized", reply{429, "x"}, reply{403, "x"}, PlaceholderRateLimited},
		{"unauthorized beats server error", reply{500, "x"}, reply{401, "x"}, PlaceholderUnauthorized},
		{"latest generic wins", reply{500, "x"}, reply{200, `{}`}, PlaceholderEmpty},
		{"server error", reply{200, `{}`}, reply{502, "x"}, PlaceholderFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newFakeGemini(map[string][]reply{"a": {tt.first}, "b": {tt.second}})
			defer srv.Close()

			c := testClient(srv.URL, []string{"a", "b"}, nil)
			if got := c.Ask(context.Background(), "p"); got != tt.want {
				t.Errorf("Ask = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsk_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := testClient(url, []string{"a", "b"}, nil)
	if got := c.Ask(context.Background(), "p"); got != PlaceholderNetwork {
		t.Errorf("Ask = %q", got)
	}
}

func TestParseRetryHint(t *testing.T) {
	tests := []struct {
		body string
		want time.Duration
		ok   bool
	}{
		{"Please retry in 12.5s.", 12500 * time.Millisecond, true},
		{"retry in 3s", 3 * time.Second, true},
		{"retry in 0.0001s", time.Millisecond, true},
		{`{"message":"Please retry in 59.123456789s."}`, 59124 * time.Millisecond, true},
		{"retry after 3s", 0, false},
		{"Retry In 3s", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseRetryHint(tt.body)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseRetryHint(%q) = %v, %v; want %v, %v", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	c := New(nil, []string{"m"}, DefaultRetry())
	tests := []struct {
		attempt int
		body    string
		want    time.Duration
	}{
		{0, "", 2 * time.Second},
		{1, "", 4 * time.Second},
		{2, "", 8 * time.Second},
		{2, "retry in 1s", 2 * time.Second},
		{0, "retry in 0.2s", 1200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := c.RetryDelay(tt.attempt, tt.body); got != tt.want {
			t.Errorf("RetryDelay(%d, %q) = %v, want %v", tt.attempt, tt.body, got, tt.want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&RetriesExhaustedError{Attempts: 3, Last: &StatusError{StatusCode: 429}}, PlaceholderRateLimited},
		{&StatusError{StatusCode: 429}, PlaceholderRateLimited},
		{&StatusError{StatusCode: 403}, PlaceholderUnauthorized},
		{&StatusError{StatusCode: 500}, PlaceholderFailed},
		{ErrMalformedResponse, PlaceholderEmpty},
		{&TransportError{Err: errors.New("dial")}, PlaceholderNetwork},
		{ErrMissingCredential, PlaceholderMissingKey},
		{errors.New("other"), PlaceholderUnavailable},
	}
	for _, tt := range tests {
		got := PlaceholderFor(tt.err)
		if got != tt.want {
			t.Errorf("PlaceholderFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
		if !IsPlaceholder(got) {
			t.Errorf("IsPlaceholder(%q) = false", got)
		}
	}
	if IsPlaceholder(`{"summary":"Could not analyze this content right now."}`) {
		t.Error("model output quoting a placeholder is not a placeholder")
	}
	if !IsPlaceholder("  " + PlaceholderNetwork + "\n") {
		t.Error("surrounding whitespace should be ignored")
	}
}

func TestStatusErrorIs(t *testing.T) {
	if !errors.Is(&StatusError{StatusCode: 500}, ErrProviderUnavailable) {
		t.Error("StatusError should match ErrProviderUnavailable")
	}
	if errors.Is(&StatusError{StatusCode: 500}, ErrUnauthorized) {
		t.Error("500 is not unauthorized")
	}
}

func TestIsProviderError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{StatusCode: 500}, true},
		{&RetriesExhaustedError{Attempts: 3}, true},
		{ErrMissingCredential, true},
		{ErrMalformedResponse, true},
		{&TransportError{Err: errors.New("dial")}, true},
		{errors.New("prompt: missing field"), false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := IsProviderError(tt.err); got != tt.want {
			t.Errorf("IsProviderError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
