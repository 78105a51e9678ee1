package llm

import "context"

// Provider performs one completion attempt against one model. It must not
// retry; retry and fallback policy live in Client.
type Provider interface {
	Name() string
	Generate(ctx context.Context, model, prompt string) (string, error)
}
