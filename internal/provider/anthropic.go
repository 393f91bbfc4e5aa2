package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic model selection is tiered by task weight: full analysis gets
// the stronger model, verification passes are narrower and run on the
// cheap one. Env vars override both.
const (
	// ModelAnalyze is the default model for first-pass analysis.
	ModelAnalyze = "claude-sonnet-4-5-20250929"

	// ModelVerify is the cost-efficient model for stability verification.
	ModelVerify = "claude-3-5-haiku-20241022"
)

// AnalyzeModel returns the analysis model, honoring PROSAIC_MODEL_ANALYZE.
func AnalyzeModel() string {
	if m := os.Getenv("PROSAIC_MODEL_ANALYZE"); m != "" {
		return m
	}
	return ModelAnalyze
}

// VerifyModel returns the verification model, honoring PROSAIC_MODEL_VERIFY.
func VerifyModel() string {
	if m := os.Getenv("PROSAIC_MODEL_VERIFY"); m != "" {
		return m
	}
	return ModelVerify
}

// AnthropicConfig configures the Anthropic-backed provider.
type AnthropicConfig struct {
	APIKey       string // if empty, reads ANTHROPIC_API_KEY
	AnalyzeModel string // default: ModelAnalyze
	VerifyModel  string // default: ModelVerify
	Retry        RetryConfig
}

// Anthropic is a Provider backed by the Anthropic Messages API.
type Anthropic struct {
	client       anthropic.Client
	analyzeModel string
	verifyModel  string
	t            *transport
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic-backed provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: %w (set ANTHROPIC_API_KEY)", ErrNoAPIKey)
		}
	}
	analyzeModel := cfg.AnalyzeModel
	if analyzeModel == "" {
		analyzeModel = AnalyzeModel()
	}
	verifyModel := cfg.VerifyModel
	if verifyModel == "" {
		verifyModel = VerifyModel()
	}
	return &Anthropic{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		analyzeModel: analyzeModel,
		verifyModel:  verifyModel,
		t:            newTransport(cfg.Retry),
	}, nil
}

// Analyze implements Provider.
func (a *Anthropic) Analyze(ctx context.Context, req Request) ([]RawIssue, error) {
	return a.call(ctx, "analysis", a.analyzeModel, buildAnalyzePrompt(req))
}

// Verify implements Provider.
func (a *Anthropic) Verify(ctx context.Context, req Request) ([]RawIssue, error) {
	return a.call(ctx, "verification", a.verifyModel, buildVerifyPrompt(req))
}

func (a *Anthropic) call(ctx context.Context, operation, model, prompt string) ([]RawIssue, error) {
	var response *anthropic.Message
	err := a.t.do(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := a.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 2048,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic %s call failed: %w", operation, err)
	}

	var responseText strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			responseText.WriteString(block.Text)
		}
	}
	return decodeIssues(responseText.String(), operation)
}

// issueEnvelope is the JSON shape both prompts request.
type issueEnvelope struct {
	Issues []RawIssue `json:"issues"`
}

func decodeIssues(text, operation string) ([]RawIssue, error) {
	env, err := parseJSON[issueEnvelope](text, operation+" response")
	if err != nil {
		// Some models return a bare array despite instructions.
		if issues, arrErr := parseJSON[[]RawIssue](text, operation+" response"); arrErr == nil {
			return issues, nil
		}
		return nil, err
	}
	return env.Issues, nil
}

func buildAnalyzePrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`You are a writing assistant checking a passage for problems.

Find spelling, grammar, style, clarity, and tone issues in the TEXT below. The surrounding context is provided only for disambiguation; report issues ONLY for the TEXT itself.

Rules:
- "original_text" must quote the problematic span from the TEXT exactly, character for character.
- "suggested_text" must differ from "original_text".
- "category" is one of: spelling, grammar, style, clarity, tone, rephrase.
- Keep spans minimal: the word or phrase that changes, not the whole sentence.
- If the text has no issues, return {"issues": []}.

Respond with ONLY a JSON object of the form:
{"issues": [{"category": "...", "original_text": "...", "suggested_text": "...", "explanation": "..."}]}

`)
	writeContext(&b, req)
	return b.String()
}

func buildVerifyPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`You are a writing assistant re-checking a passage that was already reviewed once.

Check the TEXT below ONLY for grammar and agreement problems: subject-verb agreement, tense consistency, article use, and sentence structure broken by earlier corrections. Do NOT report style, tone, or rephrasing suggestions.

Rules:
- "original_text" must quote the problematic span from the TEXT exactly, character for character.
- "suggested_text" must differ from "original_text".
- If the text is fine, return {"issues": []}.

Respond with ONLY a JSON object of the form:
{"issues": [{"category": "grammar", "original_text": "...", "suggested_text": "...", "explanation": "..."}]}

`)
	writeContext(&b, req)
	return b.String()
}

func writeContext(b *strings.Builder, req Request) {
	if req.Before != "" {
		fmt.Fprintf(b, "PRECEDING CONTEXT (do not report issues here):\n%s\n\n", req.Before)
	}
	fmt.Fprintf(b, "TEXT:\n%s\n", req.Text)
	if req.After != "" {
		fmt.Fprintf(b, "\nFOLLOWING CONTEXT (do not report issues here):\n%s\n", req.After)
	}
}
