// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrRequestRejected marks a request the provider refused outright.
// Retrying the same request will not help.
var ErrRequestRejected = errors.New("llm request rejected")

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in ChatMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, "")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// Registry selects a client by an assistant's configured provider.
type Registry struct {
	mu       sync.RWMutex
	clients  map[Provider]Client
	fallback Provider
}

// NewRegistry creates an empty registry that falls back to fallback.
func NewRegistry(fallback Provider) *Registry {
	return &Registry{
		clients:  make(map[Provider]Client),
		fallback: fallback,
	}
}

// Register adds c under its Name.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[Provider(c.Name())] = c
}

// Len reports how many clients are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// For returns the client for provider, or the fallback when provider is
// empty or not registered.
func (r *Registry) For(provider string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[Provider(strings.ToLower(provider))]; ok {
		return c, nil
	}
	if c, ok := r.clients[r.fallback]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no llm client for provider %q", provider)
}

// classifyStatus wraps err with ErrRequestRejected for non-retryable 4xx codes.
func classifyStatus(status int, err error) error {
	if status >= 400 && status < 500 && status != 408 && status != 409 && status != 429 {
		return fmt.Errorf("%w: %v", ErrRequestRejected, err)
	}
	return err
}
