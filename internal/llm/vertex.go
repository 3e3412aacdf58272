package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// VertexClient talks to Gemini models hosted on Vertex AI using application
// default credentials.
type VertexClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

func NewVertexClient(ctx context.Context, project, location, model, embeddingModel string) (*VertexClient, error) {
	if project == "" {
		return nil, fmt.Errorf("vertex provider requires a project")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex client: %w", err)
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	return &VertexClient{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

func (c *VertexClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no response candidates or content")
	}
	return text, nil
}

func (c *VertexClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	res, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("vertex batch embed failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(res.Embeddings))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
