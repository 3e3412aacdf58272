package driver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

type MemgraphDriver struct {
	Driver neo4j.DriverWithContext
}

func NewMemgraphDriver(ctx context.Context, uri, username, password string) (*MemgraphDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	zap.L().Info("connected to memgraph", zap.String("uri", uri))
	return &MemgraphDriver{Driver: driver}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX ON :Product(dataset);",
		"CREATE INDEX ON :Product(table);",
		"CREATE INDEX ON :DedupGroup(group_id);",
	}

	for _, q := range queries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			// Memgraph errors when the index already exists
			zap.L().Warn("failed to create index", zap.String("query", q), zap.Error(err))
		}
	}

	return nil
}

// persistBatch bounds the size of one UNWIND parameter list.
const persistBatch = 1000

// MemgraphStore keeps catalog rows as :Product nodes tagged with dataset and table.
// Results are written as a separate tagged set with :DedupGroup hubs.
type MemgraphStore struct {
	Driver  GraphDriver
	IDField string
}

func NewMemgraphStore(driver GraphDriver, idField string) *MemgraphStore {
	return &MemgraphStore{Driver: driver, IDField: idField}
}

func (s *MemgraphStore) Fetch(ctx context.Context, ref TableRef, limit int) (*model.RecordSet, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	query := FetchProductsQuery
	params := map[string]interface{}{"dataset": ref.Dataset, "table": ref.Table}
	if limit > 0 {
		query = FetchProductsLimitQuery
		params["limit"] = int64(limit)
	}

	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products for %s: %w", ref, err)
	}

	rows := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, ok := rec.Get("props")
		if !ok {
			continue
		}
		props, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		row := make(map[string]any, len(props))
		for k, v := range props {
			if !slices.Contains(graphTagKeys, k) {
				row[k] = v
			}
		}
		rows = append(rows, row)
	}
	return model.NewRecordSet(rows, s.IDField), nil
}

func (s *MemgraphStore) Persist(ctx context.Context, ref TableRef, rs *model.RecordSet) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	results := ref.ResultsTable()
	scope := map[string]interface{}{"dataset": ref.Dataset, "table": results}

	if _, err := s.Driver.ExecuteQuery(ctx, DeleteResultsQuery, scope); err != nil {
		return "", fmt.Errorf("failed to clear previous results: %w", err)
	}

	for start := 0; start < rs.Len(); start += persistBatch {
		end := min(start+persistBatch, rs.Len())
		batch := make([]interface{}, 0, end-start)
		for i, r := range rs.Records[start:end] {
			batch = append(batch, graphRow(r, int64(start+i)))
		}
		params := map[string]interface{}{
			"dataset": ref.Dataset,
			"table":   results,
			"rows":    batch,
		}
		if _, err := s.Driver.ExecuteQuery(ctx, SaveProductsQuery, params); err != nil {
			return "", fmt.Errorf("failed to save products %d-%d: %w", start, end, err)
		}
	}

	return fmt.Sprintf("memgraph://%s/%s", ref.Dataset, results), nil
}

func (s *MemgraphStore) Close() error {
	return s.Driver.Close(context.Background())
}

// graphRow always writes every annotation property, so a null value drops any
// stale copy carried in from a previous results set.
func graphRow(r *model.Record, ordinal int64) map[string]interface{} {
	props := make(map[string]interface{}, len(r.Fields)+4)
	for k, v := range r.Fields {
		props[k] = graphValue(v)
	}

	var confidence any
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	props[model.ColumnGroupID] = nullable(r.GroupID)
	props[model.ColumnMatchType] = nullable(string(r.MatchType))
	props[model.ColumnConfidence] = confidence
	props[model.ColumnReviewRequired] = r.ReviewRequired

	return map[string]interface{}{
		"props":      props,
		"ordinal":    ordinal,
		"record_id":  r.ID,
		"group_id":   nullable(r.GroupID),
		"match_type": nullable(string(r.MatchType)),
		"confidence": confidence,
	}
}

// graphValue converts values Bolt cannot carry into strings.
func graphValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int64, float64, time.Time, []byte:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = graphValue(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = graphValue(x)
		}
		return out
	default:
		return fmt.Sprint(t)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
