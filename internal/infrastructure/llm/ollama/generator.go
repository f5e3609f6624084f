package ollama

import (
	"context"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate calls /api/chat without streaming and returns the reply as is.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userContent string, temperature float64) (string, error) {
	request := map[string]any{
		"model": g.client.genModel,
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		"stream": false,
		"options": map[string]any{
			"temperature": temperature,
		},
	}

	var response struct {
		Message chatMessage `json:"message"`
	}
	if err := g.client.postJSON(ctx, "/api/chat", request, &response, "chat"); err != nil {
		return "", domain.WrapError(domain.ErrGeneration, "ollama chat", err)
	}
	return response.Message.Content, nil
}
