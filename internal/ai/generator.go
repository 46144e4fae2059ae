// ABOUTME: Provider-routed AI response generation for session bots
// ABOUTME: Defines the Generator contract, provider normalization and default models

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendero/funnel-gateway/internal/store"
)

// Providers supported by the gateway.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Default models per provider, used when a session config leaves the model
// name blank.
var defaultModels = map[string]string{
	ProviderGemini: "gemini-2.0-flash",
	ProviderOpenAI: "gpt-4o-mini",
}

// maxHistory caps the conversation context sent to a provider.
const maxHistory = 10

// ErrEmptyCompletion indicates the provider returned no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// ErrMissingAPIKey indicates a generation request without a credential.
var ErrMissingAPIKey = errors.New("missing api key")

// Request carries everything a provider needs to produce a reply.
type Request struct {
	Provider     string
	Model        string
	APIKey       string
	SystemPrompt string
	History      []store.Message // most recent first-to-last, capped at 10
	UserText     string
}

// Generator produces reply text for an inbound message. Implementations are
// stateless; all per-session knowledge rides in the Request.
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// NormalizeProvider coerces unknown provider names to gemini, mirroring the
// session config defaulting the frontend relies on.
func NormalizeProvider(provider string) string {
	if provider == ProviderOpenAI {
		return ProviderOpenAI
	}
	return ProviderGemini
}

// ResolveModel returns the model to use for a provider, falling back to the
// provider default when preferred is blank.
func ResolveModel(provider, preferred string) string {
	trimmed := strings.TrimSpace(preferred)
	if trimmed != "" {
		return trimmed
	}
	return defaultModels[NormalizeProvider(provider)]
}

// clampHistory returns at most the last maxHistory messages.
func clampHistory(history []store.Message) []store.Message {
	if len(history) > maxHistory {
		return history[len(history)-maxHistory:]
	}
	return history
}

// Router dispatches requests to the provider client named in the request.
type Router struct {
	openai Generator
	gemini Generator
}

// NewRouter creates a Router with the standard HTTP clients. timeout bounds
// each provider call.
func NewRouter(timeout time.Duration) *Router {
	httpClient := &http.Client{Timeout: timeout}
	return &Router{
		openai: NewOpenAIClient(httpClient),
		gemini: NewGeminiClient(httpClient),
	}
}

// Generate validates the request and routes it to the matching provider.
func (r *Router) Generate(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	routed := *req
	routed.Provider = NormalizeProvider(req.Provider)
	routed.Model = ResolveModel(routed.Provider, req.Model)
	routed.History = clampHistory(req.History)

	var gen Generator
	switch routed.Provider {
	case ProviderOpenAI:
		gen = r.openai
	default:
		gen = r.gemini
	}

	text, err := gen.Generate(ctx, &routed)
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", routed.Provider, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
