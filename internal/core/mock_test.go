package core

import (
	"context"
	"sync"

	"github.com/agenthands/catalog-dedup/internal/core/model"
	"github.com/agenthands/catalog-dedup/internal/driver"
)

type MockEmbedder struct {
	Vectors map[string][]float32
	Dim     int
	Err     error
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.Vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, m.Dim)
		}
	}
	return out, nil
}

type MockLLM struct {
	Response string
	Err      error

	mu    sync.Mutex
	Calls int
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// MockStore serves rows from memory and remembers what was persisted.
type MockStore struct {
	Rows       []map[string]any
	FetchErr   error
	PersistErr error

	Persisted *model.RecordSet
	Ref       driver.TableRef
	Limit     int
}

func (m *MockStore) Fetch(ctx context.Context, ref driver.TableRef, limit int) (*model.RecordSet, error) {
	m.Ref = ref
	m.Limit = limit
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	rows := m.Rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return model.NewRecordSet(rows, "id"), nil
}

func (m *MockStore) Persist(ctx context.Context, ref driver.TableRef, rs *model.RecordSet) (string, error) {
	if m.PersistErr != nil {
		return "", m.PersistErr
	}
	m.Persisted = rs
	return "mock://" + ref.Dataset + "/" + ref.ResultsTable(), nil
}

func (m *MockStore) Close() error {
	return nil
}
