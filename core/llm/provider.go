package llm

import (
	"context"
	"errors"
)

var (
	ErrNoAPIKey      = errors.New("no API key configured")
	ErrNoModel       = errors.New("model shouldn't be empty")
	ErrEmptyResponse = errors.New("empty response from model")
	ErrBlocked       = errors.New("response blocked")
)

// Request is a single generation call.
type Request struct {
	Model             string
	SystemInstruction string
	Prompt            string
	Media             *Media

	Temperature float32
	MaxTokens   int

	// APIKey overrides the provider's configured key for this call.
	APIKey string
	// Upload sends Media through the provider's file API instead of inline.
	Upload bool
}

// Response is what the model returned.
type Response struct {
	Text   string
	Tokens int
	// Model is the model that served the request.
	Model string
	// FileURI is set when Media was uploaded.
	FileURI string
}

type Provider interface {
	ID() string

	Generate(ctx context.Context, req Request) (*Response, error)
}

// estimateTokens is used when the API does not report usage.
func estimateTokens(req Request) int {
	return (len(req.SystemInstruction) + len(req.Prompt)) / 4
}
