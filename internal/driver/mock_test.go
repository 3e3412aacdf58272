package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executedQuery struct {
	Query  string
	Params map[string]interface{}
}

type MockDriver struct {
	Executed   []executedQuery
	MockResult neo4j.EagerResult
	Err        error
	Closed     bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.Executed = append(m.Executed, executedQuery{Query: query, Params: params})
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.MockResult, nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	m.Closed = true
	return nil
}
