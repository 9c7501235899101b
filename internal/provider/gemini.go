package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// GeminiProvider drives the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var contents []*genai.Content
	cfg := &genai.GenerateContentConfig{}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// Gemini takes the system prompt out of band.
			cfg.SystemInstruction = genai.NewContentFromText(m.Text, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
		}
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini completion: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoChoices
	}

	out := &Response{
		Text:      resp.Text(),
		Truncated: resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens,
		Model:     p.model,
	}
	for _, fc := range resp.FunctionCalls() {
		in := instruction.New(fc.Name)
		in.Provenance.Encoding = instruction.EncodingNative
		if fc.Args != nil {
			in.Params = instruction.FromMap(fc.Args)
		}
		out.NativeCalls = append(out.NativeCalls, in)
	}

	logging.Get(logging.CategoryProvider).Debugw("gemini generation complete",
		"model", p.model, "native_calls", len(out.NativeCalls), "truncated", out.Truncated)
	return out, nil
}
