package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// geminiTextPath is where generateContent puts the answer text.
const geminiTextPath = "candidates.0.content.parts.0.text"

// GeminiProvider calls the Gemini generateContent REST endpoint.
type GeminiProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGeminiProvider creates a provider for baseURL, e.g.
// https://generativelanguage.googleapis.com/v1beta.
func NewGeminiProvider(baseURL, apiKey string, timeout time.Duration) *GeminiProvider {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &GeminiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (g *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// Generate sends prompt as a single user turn and returns the first
// candidate's text.
func (g *GeminiProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Backend: g.Name(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Backend: g.Name(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Backend: g.Name(), Model: model, StatusCode: resp.StatusCode, Body: string(data)}
	}

	text := gjson.GetBytes(data, geminiTextPath)
	if !text.Exists() || text.String() == "" {
		return "", fmt.Errorf("gemini %s: %w", model, ErrMalformedResponse)
	}
	return text.String(), nil
}
