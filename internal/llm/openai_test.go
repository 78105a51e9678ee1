package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func openAIServer(t *testing.T, handler func(w http.ResponseWriter, n int32)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
			t.Errorf("expected a single user message, got %+v", body.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, calls.Add(1))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv, _ := openAIServer(t, func(w http.ResponseWriter, _ int32) {
		io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`)
	})

	c := New(NewOpenAIProvider(srv.URL+"/v1", "k", time.Second), []string{"gpt-test"}, DefaultRetry())
	got, err := c.Complete(context.Background(), "hi")
	if err != nil || got != "hello" {
		t.Errorf("got=%q err=%v", got, err)
	}
}

func TestOpenAIProvider_RateLimitHint(t *testing.T) {
	srv, calls := openAIServer(t, func(w http.ResponseWriter, n int32) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"message":"Rate limit reached. Please retry in 3s.","type":"requests"}}`)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	})

	var waits []time.Duration
	rc := DefaultRetry()
	rc.Sleep = func(_ context.Context, d time.Duration) error { waits = append(waits, d); return nil }
	c := New(NewOpenAIProvider(srv.URL+"/v1", "k", time.Second), []string{"gpt-test"}, rc)

	got, err := c.Complete(context.Background(), "hi")
	if err != nil || got != "ok" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if calls.Load() != 2 || len(waits) != 1 || waits[0] != 4*time.Second {
		t.Errorf("calls=%d waits=%v", calls.Load(), waits)
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, func(err error) bool { return errors.Is(err, ErrUnauthorized) }},
		{"server", 500, `{"error":{"message":"oops"}}`, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode == 500 && se.Backend == "openai"
		}},
		{"no choices", 200, `{"choices":[]}`, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := openAIServer(t, func(w http.ResponseWriter, _ int32) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			c := New(NewOpenAIProvider(srv.URL+"/v1", "k", time.Second), []string{"gpt-test"}, DefaultRetry())
			_, err := c.Complete(context.Background(), "hi")
			if !tt.check(err) {
				t.Errorf("unexpected err: %v", err)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}
