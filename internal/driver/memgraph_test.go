package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

func TestMemgraphStore_Fetch(t *testing.T) {
	mock := &MockDriver{MockResult: neo4j.EagerResult{
		Keys: []string{"props"},
		Records: []*neo4j.Record{
			{Keys: []string{"props"}, Values: []any{map[string]any{
				"id": "p1", "DESCR": "MONIN LAVENDER", "dataset": "retail", "table": "products", "ordinal": int64(0),
			}}},
			{Keys: []string{"props"}, Values: []any{map[string]any{
				"id": "p2", "DESCR": "MONIN CHERRY", "dataset": "retail", "table": "products", "ordinal": int64(1),
			}}},
		},
	}}
	store := NewMemgraphStore(mock, "id")

	rs, err := store.Fetch(context.Background(), TableRef{Dataset: "retail", Table: "products"}, 10)
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, "p1", rs.Records[0].ID)
	assert.Equal(t, map[string]any{"id": "p1", "DESCR": "MONIN LAVENDER"}, rs.Records[0].Fields)

	require.Len(t, mock.Executed, 1)
	assert.Equal(t, FetchProductsLimitQuery, mock.Executed[0].Query)
	assert.Equal(t, int64(10), mock.Executed[0].Params["limit"])
	assert.Equal(t, "products", mock.Executed[0].Params["table"])
}

func TestMemgraphStore_FetchWithoutLimit(t *testing.T) {
	mock := &MockDriver{}
	_, err := NewMemgraphStore(mock, "id").Fetch(context.Background(), TableRef{Dataset: "d", Table: "t"}, 0)
	require.NoError(t, err)
	assert.Equal(t, FetchProductsQuery, mock.Executed[0].Query)
	assert.NotContains(t, mock.Executed[0].Params, "limit")
}

func TestMemgraphStore_Persist(t *testing.T) {
	rows := make([]map[string]any, 0, persistBatch+5)
	for i := range persistBatch + 5 {
		rows = append(rows, map[string]any{"id": fmt.Sprint(i), "DESCR": "x", "qty": 3})
	}
	rs := model.NewRecordSet(rows, "id")
	rs.Records[0].GroupID = "fuzzy_0"
	rs.Records[0].MatchType = model.MatchFuzzyHybrid
	rs.Records[0].SetConfidence(0.93)

	mock := &MockDriver{}
	loc, err := NewMemgraphStore(mock, "id").Persist(context.Background(), TableRef{Dataset: "retail", Table: "products"}, rs)
	require.NoError(t, err)
	assert.Equal(t, "memgraph://retail/products_dedup_results", loc)

	require.Len(t, mock.Executed, 3)
	assert.Equal(t, DeleteResultsQuery, mock.Executed[0].Query)
	assert.Equal(t, "products_dedup_results", mock.Executed[0].Params["table"])

	first := mock.Executed[1].Params["rows"].([]interface{})
	second := mock.Executed[2].Params["rows"].([]interface{})
	assert.Len(t, first, persistBatch)
	assert.Len(t, second, 5)

	row := first[0].(map[string]interface{})
	assert.Equal(t, "fuzzy_0", row["group_id"])
	assert.Equal(t, "fuzzy_hybrid", row["match_type"])
	assert.Equal(t, 0.93, row["confidence"])
	props := row["props"].(map[string]interface{})
	assert.Equal(t, int64(3), props["qty"])

	plain := first[1].(map[string]interface{})
	assert.Nil(t, plain["group_id"])
	assert.Equal(t, int64(1), plain["ordinal"])
}

func TestMemgraphStore_Errors(t *testing.T) {
	mock := &MockDriver{Err: errors.New("connection refused")}
	store := NewMemgraphStore(mock, "id")

	_, err := store.Fetch(context.Background(), TableRef{Dataset: "d", Table: "t"}, 0)
	assert.ErrorContains(t, err, "connection refused")

	_, err = store.Persist(context.Background(), TableRef{Dataset: "d", Table: "t"}, &model.RecordSet{})
	assert.ErrorContains(t, err, "failed to clear previous results")

	_, err = store.Fetch(context.Background(), TableRef{Dataset: "d", Table: "t; DROP"}, 0)
	assert.ErrorContains(t, err, "invalid table id")

	require.NoError(t, store.Close())
	assert.True(t, mock.Closed)
}

func TestGraphValue(t *testing.T) {
	type custom struct{ A int }
	assert.Equal(t, int64(4), graphValue(4))
	assert.Equal(t, float64(float32(1.5)), graphValue(float32(1.5)))
	assert.Equal(t, "{7}", graphValue(custom{A: 7}))
	assert.Equal(t, []any{int64(1), "x"}, graphValue([]any{1, "x"}))
}

func TestGraphRow_OverwritesStaleAnnotations(t *testing.T) {
	// a row read back from an earlier results set
	rs := model.NewRecordSet([]map[string]any{{
		"id":              "p1",
		"DESCR":           "MONIN CHERRY",
		"group_id":        "fuzzy_old",
		"match_type":      "fuzzy_hybrid",
		"confidence":      0.91,
		"review_required": true,
	}}, "id")

	row := graphRow(rs.Records[0], 0)
	props := row["props"].(map[string]interface{})

	require.Contains(t, props, "group_id")
	assert.Nil(t, props["group_id"])
	require.Contains(t, props, "confidence")
	assert.Nil(t, props["confidence"])
	assert.Nil(t, props["match_type"])
	assert.Equal(t, false, props["review_required"])
	assert.Nil(t, row["group_id"])
	assert.Nil(t, row["confidence"])
	assert.Equal(t, "MONIN CHERRY", props["DESCR"])

	rs.Records[0].GroupID = "fuzzy_p1"
	rs.Records[0].SetConfidence(0.97)
	props = graphRow(rs.Records[0], 0)["props"].(map[string]interface{})
	assert.Equal(t, "fuzzy_p1", props["group_id"])
	assert.Equal(t, 0.97, props["confidence"])
}
