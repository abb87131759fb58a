// Package gemini adapts the Gemini API to nlrules.Model. It is kept apart
// from nlrules so that packages using the generator do not link the genai
// client.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/Mutter0815/SegmentMailer/internal/nlrules"
)

const DefaultModel = "gemini-1.5-flash-latest"

type Model struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

var _ nlrules.Model = (*Model)(nil)

func New(ctx context.Context, apiKey, model string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Model{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.1),
			TopP:            genai.Ptr[float32](0.95),
			TopK:            genai.Ptr[float32](40),
			MaxOutputTokens: 2000,
		},
	}, nil
}

func (g *Model) Generate(ctx context.Context, instruction string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(instruction, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &nlrules.StatusError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}
