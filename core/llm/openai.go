package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// Media is sent inline as a base64 data URL.
type OpenAIProvider struct {
	APIKey  string
	BaseURL string
	Model   string

	HTTPClient *http.Client
	Log        zerolog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

func (o *OpenAIProvider) ID() string { return "openai" }

func (o *OpenAIProvider) client(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.Model
	}
	if model == "" {
		return nil, ErrNoModel
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = o.APIKey
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	params := chatParams(model, req)

	o.Log.Debug().
		Str("model", model).
		Bool("media", req.Media != nil).
		Msg("Sending chat completion request")

	client := o.client(apiKey)
	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", scrub(err, apiKey))
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		if len(completion.Choices) > 0 && completion.Choices[0].FinishReason == "content_filter" {
			return nil, fmt.Errorf("%w by content filter", ErrBlocked)
		}
		return nil, ErrEmptyResponse
	}

	tokens := int(completion.Usage.TotalTokens)
	if tokens == 0 {
		tokens = estimateTokens(req)
	}
	return &Response{Text: completion.Choices[0].Message.Content, Tokens: tokens, Model: model}, nil
}

func chatParams(model string, req Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}

	if req.Media != nil {
		var parts []openai.ChatCompletionContentPartUnionParam
		if req.Prompt != "" {
			parts = append(parts, openai.TextContentPart(req.Prompt))
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: DataURL(req.Media),
		}))
		messages = append(messages, openai.UserMessage(parts))
	} else {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}
