package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrCollaborator marks every failure of an external OCR, translation or
// image service.
var ErrCollaborator = errors.New("collaborator failure")

// CollaboratorError wraps a failed external call. It matches both
// ErrCollaborator and the underlying cause with errors.Is.
type CollaboratorError struct {
	Service  string
	Provider string
	Err      error
}

func (e *CollaboratorError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Service, e.Provider, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaborator, e.Err}
}

// Fail wraps err as a collaborator failure of service.
func Fail(service, provider string, err error) error {
	return &CollaboratorError{Service: service, Provider: provider, Err: err}
}

// Image is an inline image attached to a prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

// Config represents the configuration for an LLM provider
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	Images      []Image
	// JSON asks the model for a bare JSON object.
	JSON      bool
	MaxTokens int
}

// Provider defines the interface for an LLM provider
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}

// Set maps provider names to providers.
type Set map[string]Provider

// Get returns the named provider.
func (s Set) Get(name string) (Provider, error) {
	p, ok := s[name]
	if !ok {
		names := make([]string, 0, len(s))
		for n := range s {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unsupported provider: %s (available: %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			return "gpt-4o"
		}
		return model
	case "ollama":
		model := os.Getenv("OLLAMA_MODEL")
		if model == "" {
			return "mistral-small3.2:24b"
		}
		return model
	case "gemini":
		model := os.Getenv("GEMINI_MODEL")
		if model == "" {
			return "gemini-2.5-flash"
		}
		return model
	default:
		return ""
	}
}

// StripFences removes a surrounding markdown code fence from a model reply.
func StripFences(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}
