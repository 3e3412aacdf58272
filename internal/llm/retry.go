package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy is exponential backoff for collaborator calls. The pipeline never
// retries on its own; it only sees the terminal outcome.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Do runs op until it succeeds, the retries are used up, or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	backoff := p.InitialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}

		zap.L().Debug("collaborator call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

// NewLimiter returns nil (no limit) when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// GuardedClient adds rate limiting and retries in front of a provider client.
// Either half may be nil when the provider lacks that capability.
type GuardedClient struct {
	LLM      LLMClient
	Embedder EmbedderClient
	Retry    RetryPolicy
	Limiter  *rate.Limiter
}

func (g *GuardedClient) wait(ctx context.Context) error {
	if g.Limiter == nil {
		return nil
	}
	return g.Limiter.Wait(ctx)
}

func (g *GuardedClient) Generate(ctx context.Context, prompt string) (string, error) {
	if g.LLM == nil {
		return "", errors.New("no generation client configured")
	}
	var out string
	err := g.Retry.Do(ctx, func(ctx context.Context) error {
		if err := g.wait(ctx); err != nil {
			return err
		}
		s, err := g.LLM.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (g *GuardedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if g.Embedder == nil {
		return nil, errors.New("no embedding client configured")
	}
	var out [][]float32
	err := g.Retry.Do(ctx, func(ctx context.Context) error {
		if err := g.wait(ctx); err != nil {
			return err
		}
		v, err := g.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
