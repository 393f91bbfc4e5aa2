package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey       string // if empty, reads OPENAI_API_KEY
	AnalyzeModel string // default: gpt-4o
	VerifyModel  string // default: gpt-4o-mini
	Retry        RetryConfig
}

// OpenAI is a Provider backed by the OpenAI chat completions API.
type OpenAI struct {
	client       *openai.Client
	analyzeModel string
	verifyModel  string
	t            *transport
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-backed provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrNoAPIKey)
		}
	}
	analyzeModel := cfg.AnalyzeModel
	if analyzeModel == "" {
		analyzeModel = "gpt-4o"
	}
	verifyModel := cfg.VerifyModel
	if verifyModel == "" {
		verifyModel = "gpt-4o-mini"
	}
	return &OpenAI{
		client:       openai.NewClient(apiKey),
		analyzeModel: analyzeModel,
		verifyModel:  verifyModel,
		t:            newTransport(cfg.Retry),
	}, nil
}

// Analyze implements Provider.
func (o *OpenAI) Analyze(ctx context.Context, req Request) ([]RawIssue, error) {
	return o.call(ctx, "analysis", o.analyzeModel, buildAnalyzePrompt(req))
}

// Verify implements Provider.
func (o *OpenAI) Verify(ctx context.Context, req Request) ([]RawIssue, error) {
	return o.call(ctx, "verification", o.verifyModel, buildVerifyPrompt(req))
}

func (o *OpenAI) call(ctx context.Context, operation, model, prompt string) ([]RawIssue, error) {
	var content string
	err := o.t.do(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := o.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if apiErr != nil {
			return apiErr
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openai returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai %s call failed: %w", operation, err)
	}
	return decodeIssues(content, operation)
}
