package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/support-guardrail/internal/domain/actionclaim"
	"github.com/bryanwahyu/support-guardrail/internal/infra/ai/prompt"
)

const maxTokens = 512

// ErrUnsafeCorrection means the model answered with credential-like content.
var ErrUnsafeCorrection = errors.New("openai: correction contains secret material")

// Client implements actionclaim.Corrector over the chat completions API.
type Client struct {
	*openai.Client
	Model string
}

// NewClient talks to baseURL when set, otherwise to api.openai.com.
func NewClient(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (c *Client) Correct(ctx context.Context, req actionclaim.CorrectionRequest) (string, error) {
	model := c.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	creq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt(string(req.Language))},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(req.Text, req.Instruction)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		creq.MaxCompletionTokens = maxTokens
	} else {
		creq.MaxTokens = maxTokens
		creq.Temperature = 0.2
	}

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		if isQuota(err) {
			return "", fmt.Errorf("%w: %v", actionclaim.ErrCorrectorQuota, err)
		}
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", actionclaim.ErrEmptyCorrection
	}
	out := prompt.Clean(resp.Choices[0].Message.Content)
	if out == "" {
		return "", actionclaim.ErrEmptyCorrection
	}
	if prompt.ContainsSecret(out) {
		return "", ErrUnsafeCorrection
	}
	return out, nil
}

// isQuota reports a 429 from the API or the transport.
func isQuota(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Type == "insufficient_quota"
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
