package core

import (
	"context"
	"fmt"
	"time"

	"verdictbot/core/llm"
	"verdictbot/core/prompt"
	"verdictbot/core/verdict"
)

// JudgeInput is everything needed for one judging call.
type JudgeInput struct {
	Media        *llm.Media
	Caption      string
	Mode         prompt.Mode
	CustomPrompt string
	Model        string
	APIKey       string
	Upload       bool

	Temperature float32
	MaxTokens   int
}

// Judge sends the image to p with the instruction for in.Mode and extracts
// the verdict from the reply.
func Judge(ctx context.Context, p llm.Provider, in JudgeInput) (*Judgement, error) {
	if in.Mode == "" {
		in.Mode = prompt.Concise
	}
	system, err := prompt.SystemInstruction(in.Mode, in.CustomPrompt)
	if err != nil {
		return nil, err
	}

	resp, err := p.Generate(ctx, llm.Request{
		Model:             in.Model,
		SystemInstruction: system,
		Prompt:            prompt.UserPrompt(in.Caption),
		Media:             in.Media,
		Temperature:       in.Temperature,
		MaxTokens:         in.MaxTokens,
		APIKey:            in.APIKey,
		Upload:            in.Upload,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.ID(), err)
	}

	j := &Judgement{
		Model:  resp.Model,
		Mode:   string(in.Mode),
		Time:   time.Now(),
		Tokens: resp.Tokens,
		Result: verdict.Extract(resp.Text),
	}
	if j.Model == "" {
		j.Model = in.Model
	}
	if in.Media != nil {
		j.Image = in.Media.Name
	}
	return j, nil
}
