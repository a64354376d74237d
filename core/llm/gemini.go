package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

var keyRedactor = regexp.MustCompile(`(key=)[^&"\s]+`)

// SafetySettings disables blocking for every category the API lets callers
// tune; judging arbitrary photos trips the default thresholds constantly.
var SafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryCivicIntegrity, Threshold: genai.HarmBlockThresholdBlockNone},
}

// GeminiProvider talks to the Gemini API through the genai SDK. It keeps one
// SDK client per API key so per-user keys don't rebuild a client on every
// call.
type GeminiProvider struct {
	APIKey  string
	BaseURL string
	Model   string

	HTTPClient *http.Client
	Log        zerolog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var _ Provider = (*GeminiProvider)(nil)

func (g *GeminiProvider) ID() string { return "gemini" }

// Client returns the SDK client for apiKey, creating it on first use. An
// empty apiKey selects the provider's own key.
func (g *GeminiProvider) Client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		apiKey = g.APIKey
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.HTTPClient,
	}
	if g.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = g.BaseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", scrub(err, apiKey))
	}

	if g.clients == nil {
		g.clients = make(map[string]*genai.Client)
	}
	g.clients[apiKey] = client
	return client, nil
}

// Forget drops the cached client for apiKey, e.g. after a user deletes it.
func (g *GeminiProvider) Forget(apiKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, apiKey)
}

func (g *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.Model
	}
	if model == "" {
		return nil, ErrNoModel
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = g.APIKey
	}

	client, err := g.Client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var (
		parts   []*genai.Part
		fileURI string
	)
	if req.Media != nil {
		if req.Upload {
			file, err := g.UploadFile(ctx, client, req.Media)
			if err != nil {
				return nil, err
			}
			fileURI = file.URI
			parts = append(parts, genai.NewPartFromURI(file.URI, file.MIMEType))
		} else {
			parts = append(parts, genai.NewPartFromBytes(req.Media.Data, req.Media.MIMEType))
		}
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	if len(parts) == 0 {
		return nil, errors.New("nothing to send")
	}

	g.Log.Debug().
		Str("model", model).
		Bool("media", req.Media != nil).
		Bool("upload", req.Upload).
		Msg("Sending generate request")

	resp, err := client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		generateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", scrub(err, apiKey))
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	tokens := estimateTokens(req)
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{Text: text, Tokens: tokens, Model: model, FileURI: fileURI}, nil
}

// UploadFile sends m through the Files API.
func (g *GeminiProvider) UploadFile(ctx context.Context, client *genai.Client, m *Media) (*genai.File, error) {
	file, err := client.Files.Upload(ctx, bytes.NewReader(m.Data), &genai.UploadFileConfig{
		MIMEType:    m.MIMEType,
		DisplayName: m.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	g.Log.Debug().Str("uri", file.URI).Str("mime_type", file.MIMEType).Msg("Uploaded file")
	return file, nil
}

func generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: SafetySettings,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	text := resp.Text()
	if text != "" {
		return text, nil
	}
	if reason := resp.Candidates[0].FinishReason; reason != "" && reason != genai.FinishReasonStop {
		return "", fmt.Errorf("%w by safety settings (%s)", ErrBlocked, reason)
	}
	return "", ErrEmptyResponse
}

// scrub removes apiKey from err's message.
func scrub(err error, apiKey string) error {
	msg := keyRedactor.ReplaceAllString(err.Error(), "$1[REDACTED]")
	if apiKey != "" {
		msg = strings.ReplaceAll(msg, apiKey, "[REDACTED]")
	}
	if msg == err.Error() {
		return err
	}
	return errors.New(msg)
}
