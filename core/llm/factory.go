package llm

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
	// UploadFiles sends images through the Files API instead of inline.
	UploadFiles bool `toml:"upload_files"`
}

const DefaultGeminiModel = "gemini-2.5-flash"

func New(cfg Config, log zerolog.Logger) (Provider, error) {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	log = log.With().Str("component", "llm").Str("provider", cfg.Provider).Logger()

	switch cfg.Provider {
	case "", "gemini":
		if cfg.Model == "" {
			cfg.Model = DefaultGeminiModel
		}
		return &GeminiProvider{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Log:     log,
		}, nil
	case "openai", "deepseek", "ollama":
		if cfg.BaseURL == "" && cfg.Provider == "openai" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		return &OpenAIProvider{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Log:     log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
