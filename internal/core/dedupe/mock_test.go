package dedupe

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

type MockLLMClient struct {
	Response string
	Err      error
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// MockEmbedder returns the vector registered for each text, or a zero vector.
type MockEmbedder struct {
	Vectors map[string][]float32
	Dim     int
	Err     error
	// Short drops the last vector of every batch.
	Short bool

	mu      sync.Mutex
	Batches [][]string
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.Batches = append(m.Batches, texts)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, ok := m.Vectors[t]
		if !ok {
			v = make([]float32, m.Dim)
		}
		out = append(out, v)
	}
	if m.Short {
		out = out[:len(out)-1]
	}
	return out, nil
}

var errQuota = errors.New("quota exceeded")

// MockAdjudicator answers every prompt the same way, except prompts containing
// FailOn, which get errQuota, and prompts matching a ScoreFor key.
type MockAdjudicator struct {
	ScoreResponse   float64
	VerdictResponse Verdict
	ScoreFor        map[string]float64
	FailOn          string

	mu      sync.Mutex
	Prompts []string
}

func (m *MockAdjudicator) record(prompt string) error {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()
	if m.FailOn != "" && strings.Contains(prompt, m.FailOn) {
		return &CollaboratorError{Op: "mock", Err: errQuota}
	}
	return nil
}

func (m *MockAdjudicator) Score(ctx context.Context, prompt string) (float64, error) {
	if err := m.record(prompt); err != nil {
		return 0, err
	}
	for k, v := range m.ScoreFor {
		if strings.Contains(prompt, k) {
			return v, nil
		}
	}
	return m.ScoreResponse, nil
}

func (m *MockAdjudicator) Decide(ctx context.Context, prompt string) (Verdict, error) {
	if err := m.record(prompt); err != nil {
		return VerdictNo, err
	}
	return m.VerdictResponse, nil
}

func (m *MockAdjudicator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

func newRecord(id, descr string) *model.Record {
	return &model.Record{ID: id, Fields: map[string]any{"id": id, "DESCR": descr}}
}

func grouped(id, descr, group string, mt model.MatchType, conf float64) *model.Record {
	r := newRecord(id, descr)
	r.GroupID = group
	r.MatchType = mt
	r.SetConfidence(conf)
	return r
}

func conf(r *model.Record) float64 {
	if r.Confidence == nil {
		return -1
	}
	return *r.Confidence
}
