package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"github.com/sashabaranov/go-openai"
)

const promptTemplate = "You are a senior network security analyst. " +
	"Please analyze the following findings from the Go2NetSentinel packet analysis engine. " +
	"Group related findings, assess the overall threat and its severity, and recommend next steps for investigation. " +
	"The output should be clear and actionable.\n\n" +
	"--- Findings ---\n%s\n--- End of Findings ---"

// Analyst implements model.Analyzer using an OpenAI-compatible API.
type Analyst struct {
	cfg    *config.AIConfig
	client *openai.Client
}

// NewAnalyst creates a new instance of Analyst.
func NewAnalyst(cfg *config.AIConfig) (*Analyst, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is not configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Analyst{cfg: cfg, client: openai.NewClientWithConfig(clientConfig)}, nil
}

func (a *Analyst) request(summary string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:     a.cfg.Model,
		MaxTokens: 2048,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(promptTemplate, summary),
			},
		},
		Stream: stream,
	}
}

// AnalyzeFindings sends the findings summary and returns the model's answer.
func (a *Analyst) AnalyzeFindings(ctx context.Context, summary string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, a.request(summary, false))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("AI request timeout: %w", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("AI request canceled by client: %w", err)
		}
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeStream is AnalyzeFindings with the answer delivered in chunks.
func (a *Analyst) AnalyzeStream(ctx context.Context, summary string, sendChunk func(string) error) error {
	stream, err := a.client.CreateChatCompletionStream(ctx, a.request(summary, true))
	if err != nil {
		return fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if err := sendChunk(response.Choices[0].Delta.Content); err != nil {
			return fmt.Errorf("failed to deliver chunk: %w", err)
		}
	}
}

var _ model.Analyzer = (*Analyst)(nil)
