package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Provider is the interface that all AI backends must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string // "gemini" or "ollama"
}

// ChatRequest is a provider-agnostic request.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSONMode    bool // request JSON-formatted output
}

// ChatResponse is a provider-agnostic response.
type ChatResponse struct {
	Content    string
	TokensUsed int
	Model      string
	Provider   string
}

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Error classes shared by all providers.
var (
	ErrRateLimited   = errors.New("ai: rate limited")
	ErrAuth          = errors.New("ai: authentication failed")
	ErrUnavailable   = errors.New("ai: service unavailable")
	ErrBadRequest    = errors.New("ai: request rejected")
	ErrEmptyResponse = errors.New("ai: empty response")
)

// APIError is a non-200 answer from a provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
	Wait     time.Duration
	class    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.class }

// RetryAfter is the provider's Retry-After hint, if any.
func (e *APIError) RetryAfter() time.Duration { return e.Wait }

func newAPIError(provider string, resp *http.Response, msg string) *APIError {
	if len(msg) > 500 {
		msg = msg[:500]
	}
	e := &APIError{Provider: provider, Status: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.class = ErrRateLimited
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.Wait = time.Duration(secs) * time.Second
		}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.class = ErrAuth
	case resp.StatusCode >= 500:
		e.class = ErrUnavailable
	default:
		e.class = ErrBadRequest
	}
	return e
}

// Retryable reports whether a failed call may succeed if repeated.
func Retryable(err error) bool {
	return !errors.Is(err, ErrAuth) && !errors.Is(err, ErrBadRequest)
}

// Config selects and configures a provider.
type Config struct {
	Provider     string // "gemini" (default) or "ollama"
	GeminiAPIKey string
	GeminiModel  string
	GeminiURL    string
	OllamaURL    string
	OllamaModel  string
	Timeout      time.Duration
}

// New returns the provider named in cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini API key not configured")
		}
		return NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiURL, cfg.Timeout), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
