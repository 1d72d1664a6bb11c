package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

const generatorSystemPrompt = `You are a code generator for a CRM web application.
Given a change request, respond with ONLY a JSON array of files to stage:
[{"path": "relative/file/path", "content": "full file content"}]
Every entry must have a non-empty path and content. No prose, no markdown fences.`

// OpenAIGenerator implements Generator on any OpenAI-compatible chat API
// (OpenAI itself, or a local llama.cpp/ollama endpoint via base URL).
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator from environment configuration:
// OPENAI_API_KEY (required), OPENAI_MODEL (default gpt-4o-mini) and
// OPENAI_BASE_URL (optional, for local backends).
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
		slog.Info("Using OpenAI-compatible backend", "base_url", baseURL)
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Generate asks the model for a staged file set and parses the JSON reply.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, hintTargets []string) ([]task.StagedFile, error) {
	userPrompt := prompt
	if len(hintTargets) > 0 {
		userPrompt = fmt.Sprintf("%s\n\nThe change is expected to touch these files: %s",
			prompt, strings.Join(hintTargets, ", "))
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generatorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("code generation call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("code generation returned no choices")
	}

	files, err := ParseFileList(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parse generated file list: %w", err)
	}
	return files, nil
}

// ParseFileList decodes a model reply into staged files. Tolerates a reply
// wrapped in markdown fences, since smaller models tend to add them.
func ParseFileList(reply string) ([]task.StagedFile, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var files []task.StagedFile
	if err := json.Unmarshal([]byte(cleaned), &files); err != nil {
		return nil, fmt.Errorf("invalid file list JSON: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("file list is empty")
	}
	for i, f := range files {
		if f.Path == "" || f.Content == "" {
			return nil, fmt.Errorf("file entry %d has empty path or content", i)
		}
	}
	return files, nil
}
