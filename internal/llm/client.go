// Package llm sends prompts to a hosted completion provider. Client.Complete
// retries rate-limited requests and returns errors; Client.Ask tries each
// configured model once and always returns displayable text.
package llm

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/swapisticated/Astro-Repo/internal/config"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/pkg/retry"
)

var retryHint = regexp.MustCompile(`retry in (\d+(?:\.\d+)?)s`)

// hintBuffer is added on top of a provider's retry hint.
const hintBuffer = time.Second

// Client owns the retry and fallback policy over a Provider.
type Client struct {
	provider Provider
	models   []string
	retry    retry.Config
}

// DefaultRetry is three attempts with 2s, 4s, 8s waits. The client waits
// after the third rate-limited attempt too before giving up.
func DefaultRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		InitialWait: 2 * time.Second,
		Multiplier:  2,
		WaitOnLast:  true,
	}
}

// New creates a client. A nil provider means no credential is configured;
// Complete then fails with ErrMissingCredential and Ask returns
// PlaceholderMissingKey. The first model is the primary one; with no models
// the configured defaults are used.
func New(provider Provider, models []string, rc retry.Config) *Client {
	if len(models) == 0 {
		models = config.Defaults().LLMModels
	}
	rc.WaitOnLast = true
	rc.Jitter = 0
	return &Client{provider: provider, models: models, retry: rc}
}

// NewFromConfig builds the provider named in cfg.
func NewFromConfig(cfg *config.Config) *Client {
	rc := DefaultRetry()
	rc.MaxAttempts = cfg.LLMMaxAttempts
	rc.InitialWait = cfg.LLMInitialBackoff

	var p Provider
	if cfg.LLMAPIKey != "" {
		switch cfg.LLMProvider {
		case "openai":
			base := cfg.LLMBaseURL
			if base == config.Defaults().LLMBaseURL {
				base = ""
			}
			p = NewOpenAIProvider(base, cfg.LLMAPIKey, cfg.LLMTimeout)
		default:
			p = NewGeminiProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
		}
	}
	return New(p, cfg.LLMModels, rc)
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool { return c.provider != nil }

// ParseRetryHint extracts the provider's "retry in Ns" hint from an error
// body. Absence is not an error.
func ParseRetryHint(body string) (time.Duration, bool) {
	m := retryHint.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(math.Ceil(secs*1000)) * time.Millisecond, true
}

// RetryDelay is the wait after the zero-based attempt that got a 429 with
// the given body: the hint plus one second when present, else exponential
// backoff from the retry config.
func (c *Client) RetryDelay(attempt int, body string) time.Duration {
	if hint, ok := ParseRetryHint(body); ok {
		return hint + hintBuffer
	}
	return c.retry.Backoff(attempt)
}

// Complete sends prompt to the primary model. Rate-limited attempts wait and
// retry up to the configured cap; any other failure returns at once.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.provider == nil {
		return "", ErrMissingCredential
	}
	model := c.models[0]
	log := logging.WithContext(ctx)

	rc := c.retry
	rc.OnRetry = func(attempt int, wait time.Duration, err error) {
		var se *StatusError
		hinted := false
		if errors.As(err, &se) {
			_, hinted = ParseRetryHint(se.Body)
		}
		metrics.RecordRateLimitWait(hinted, wait)
		log.Warn("llm rate limited, waiting",
			logging.String("model", model),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", rc.MaxAttempts),
			logging.Duration("wait", wait),
			logging.Bool("hinted", hinted),
		)
	}

	attempt := 0
	text, err := retry.DoWithResult(ctx, rc, func() (string, error) {
		n := attempt
		attempt++
		text, err := c.attempt(ctx, model, prompt)
		if err == nil {
			return text, nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.RateLimited() {
			return "", retry.RetryAfter(err, c.RetryDelay(n, se.Body))
		}
		return "", err
	})
	if err == nil {
		return text, nil
	}

	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		metrics.RecordRetriesExhausted()
		log.Error("llm retries exhausted", logging.String("model", model), logging.Int("attempts", ex.Attempts))
		return "", &RetriesExhaustedError{Attempts: ex.Attempts, Last: ex.Err}
	}
	return "", err
}

// Ask tries every configured model once, in order, and returns the first
// answer. When all fail it returns the placeholder for the most specific
// failure seen: rate limited, then unauthorized, then the latest generic
// failure. It never returns an error.
func (c *Client) Ask(ctx context.Context, prompt string) string {
	if c.provider == nil {
		metrics.RecordPlaceholder("missing_key")
		return PlaceholderMissingKey
	}

	worst := catNone
	var worstErr error
	for _, model := range c.models {
		text, err := c.attempt(ctx, model, prompt)
		if err == nil {
			return text
		}
		if cat := classify(err); cat >= worst {
			worst, worstErr = cat, err
		}
		if ctx.Err() != nil {
			break
		}
	}

	metrics.RecordPlaceholder(worst.String())
	if worstErr == nil {
		return PlaceholderUnavailable
	}
	return PlaceholderFor(worstErr)
}

func (c *Client) attempt(ctx context.Context, model, prompt string) (string, error) {
	start := time.Now()
	text, err := c.provider.Generate(ctx, model, prompt)
	outcome := outcomeOf(err)
	metrics.RecordLLMRequest(c.provider.Name(), model, outcome, time.Since(start))
	if err != nil {
		logging.WithContext(ctx).Warn("llm attempt failed",
			logging.String("backend", c.provider.Name()),
			logging.String("model", model),
			logging.String("outcome", outcome),
			logging.Err(err),
		)
	}
	return text, err
}

func outcomeOf(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se) && se.RateLimited():
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case se != nil:
		return "status_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrTransport):
		return "transport"
	}
	return "error"
}
