package driver

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// GraphDriver is the narrow Cypher surface the Memgraph store needs.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// RecordStore fetches a catalog table and persists the annotated result next to it.
type RecordStore interface {
	Fetch(ctx context.Context, ref TableRef, limit int) (*model.RecordSet, error)
	// Persist writes rs to the results table for ref and returns the written location.
	Persist(ctx context.Context, ref TableRef, rs *model.RecordSet) (string, error)
	Close() error
}

// ResultsSuffix is appended to the source table name for persisted runs.
const ResultsSuffix = "_dedup_results"

var identifier = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// TableRef names a source table inside a dataset.
type TableRef struct {
	Dataset string `json:"dataset_id"`
	Table   string `json:"table_id"`
}

func (t TableRef) ResultsTable() string {
	return t.Table + ResultsSuffix
}

func (t TableRef) String() string {
	return t.Dataset + "." + t.Table
}

// Validate rejects empty or non-identifier names so they can be spliced into queries.
func (t TableRef) Validate() error {
	if !identifier.MatchString(t.Dataset) {
		return fmt.Errorf("invalid dataset id %q", t.Dataset)
	}
	if !identifier.MatchString(t.Table) {
		return fmt.Errorf("invalid table id %q", t.Table)
	}
	return nil
}
