package llm

import (
	"context"
)

type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient turns texts into vectors. The result has one vector per input,
// in input order; a failure fails the whole batch.
type EmbedderClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
