package provider

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// OpenAIProvider drives any OpenAI-compatible chat endpoint, which
// includes local llama.cpp and vLLM servers via BaseURL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider for the hosted OpenAI API.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAICompatProvider creates a provider for an OpenAI-compatible
// server at baseURL (local llama.cpp, vLLM, or a proxy).
func NewOpenAICompatProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	creq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.Temperature > 0 {
		creq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	out := &Response{
		Text:        choice.Message.Content,
		NativeCalls: nativeCallsFromToolCalls(choice.Message.ToolCalls),
		Truncated:   choice.FinishReason == openai.FinishReasonLength,
		Model:       resp.Model,
	}
	logging.Get(logging.CategoryProvider).Debugw("openai generation complete",
		"model", resp.Model, "finish", choice.FinishReason,
		"native_calls", len(out.NativeCalls), "truncated", out.Truncated)
	return out, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return out
}

// nativeCallsFromToolCalls converts backend tool calls to instructions.
// Arguments that fail to parse yield an instruction with empty
// parameters rather than dropping the call; the repairer gets a chance
// at it downstream.
func nativeCallsFromToolCalls(calls []openai.ToolCall) []instruction.Instruction {
	var out []instruction.Instruction
	for _, tc := range calls {
		if tc.Function.Name == "" {
			continue
		}
		in := instruction.New(tc.Function.Name)
		in.Provenance.Encoding = instruction.EncodingNative
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil {
			in.Params = instruction.FromMap(args)
		} else {
			logging.Decision(logging.CategoryProvider, "native_args_unparsed", "invalid_json",
				"name", tc.Function.Name)
		}
		out = append(out, in)
	}
	return out
}
