package dedupe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core/model"
)

func testSearcher(emb *MockEmbedder) *SimilaritySearcher {
	cfg := config.DefaultDedup()
	cfg.DescriptionFields = []string{"DESCR", "DESCR60"}
	return NewSimilaritySearcher(emb, cfg, 2)
}

func TestSimilaritySearcher_GroupsNearDuplicates(t *testing.T) {
	emb := &MockEmbedder{Dim: 3, Vectors: map[string][]float32{
		"monin lavender syrup 700ml":  {1, 0, 0},
		"monin lavender syrup 700 ml": {1, 0, 0},
		"monin cherry syrup 700ml":    {0, 1, 0},
	}}
	rs := model.NewRecordSet([]map[string]any{
		{"id": "1", "DESCR": "MONIN Lavender Syrup", "DESCR60": "700ML"},
		{"id": "2", "DESCR": "Monin lavender-syrup", "DESCR60": "700 ml"},
		{"id": "3", "DESCR": "MONIN CHERRY SYRUP", "DESCR60": "700ML"},
	}, "id")

	stats, err := testSearcher(emb).Search(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, SearchStats{Candidates: 3, Groups: 1, Matched: 2}, stats)

	a, b, c := rs.Records[0], rs.Records[1], rs.Records[2]
	assert.Equal(t, "fuzzy_1", a.GroupID)
	assert.Equal(t, "fuzzy_1", b.GroupID)
	assert.Equal(t, model.MatchFuzzyHybrid, b.MatchType)
	// 0.7*1.0 + 0.3*(3/4)
	assert.InDelta(t, 0.925, conf(b), 1e-9)
	assert.InDelta(t, 0.925, conf(a), 1e-9)
	assert.False(t, c.Grouped())
	assert.Nil(t, c.Confidence)

	assert.Equal(t, "monin lavender syrup 700 ml", b.NormalizedText)
	assert.Equal(t, []float32{1, 0, 0}, b.Embedding)
}

func TestSimilaritySearcher_FusionOfIdenticalRecords(t *testing.T) {
	for _, threshold := range []float64{0.5, 0.9, 0.99, 0.999} {
		emb := &MockEmbedder{Dim: 2, Vectors: map[string][]float32{"blue widget": {0, 2}}}
		rs := model.NewRecordSet([]map[string]any{
			{"id": "1", "DESCR": "Blue Widget"},
			{"id": "2", "DESCR": "blue widget!"},
		}, "id")

		s := testSearcher(emb)
		s.PrimaryThreshold = threshold
		_, err := s.Search(context.Background(), rs)
		require.NoError(t, err)

		for _, r := range rs.Records {
			assert.Equal(t, "fuzzy_1", r.GroupID, "threshold %v", threshold)
			assert.InDelta(t, 1.0, conf(r), 1e-9)
		}
	}
}

func TestSimilaritySearcher_SkipsGroupedAndZeroVectors(t *testing.T) {
	emb := &MockEmbedder{Dim: 2, Vectors: map[string][]float32{"widget": {1, 0}}}
	rs := model.NewRecordSet([]map[string]any{
		{"id": "1", "DESCR": "widget"},
		{"id": "2", "DESCR": "widget"},
		{"id": "3", "DESCR": ""},
		{"id": "4"},
	}, "id")
	rs.Records[1].GroupID = "exact_item_code_9"
	rs.Records[1].MatchType = model.ExactMatch("item_code")

	stats, err := testSearcher(emb).Search(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Candidates)
	assert.Equal(t, 0, stats.Groups)
	assert.Equal(t, "exact_item_code_9", rs.Records[1].GroupID)
	for _, i := range []int{0, 2, 3} {
		assert.False(t, rs.Records[i].Grouped())
	}

	// grouped records are never sent for embedding
	for _, batch := range emb.Batches {
		assert.Len(t, batch, 3)
	}
}

func TestSimilaritySearcher_ClaimedPartnersAreSkipped(t *testing.T) {
	// a comes first and claims both partners before they can pair with each other
	emb := &MockEmbedder{Dim: 2, Vectors: map[string][]float32{
		"red apple":    {1, 0},
		"red apples":   {1, 0.05},
		"red apples x": {1, 0.1},
	}}
	rs := model.NewRecordSet([]map[string]any{
		{"id": "a", "DESCR": "red apple"},
		{"id": "b", "DESCR": "red apples"},
		{"id": "c", "DESCR": "red apples x"},
	}, "id")

	s := testSearcher(emb)
	s.PrimaryThreshold = 0.8
	_, err := s.Search(context.Background(), rs)
	require.NoError(t, err)

	for _, r := range rs.Records {
		assert.Equal(t, "fuzzy_a", r.GroupID)
	}
}

func TestSimilaritySearcher_ChunkSizeIndependence(t *testing.T) {
	rows := make([]map[string]any, 0, 24)
	vectors := map[string][]float32{}
	for i := range 24 {
		cluster := i % 4
		text := fmt.Sprintf("product %d variant %d", cluster, i)
		v := make([]float32, 4)
		v[cluster] = 1
		v[(cluster+1)%4] = 0.05 * float32(i%3)
		vectors[text] = v
		rows = append(rows, map[string]any{"id": fmt.Sprint(i), "DESCR": text})
	}

	var baseline []string
	for _, chunk := range []int{1, 3, 5, 7, 24, 5000} {
		rs := model.NewRecordSet(rows, "id")
		s := testSearcher(&MockEmbedder{Dim: 4, Vectors: vectors})
		s.ChunkSize = chunk
		s.BatchSize = 5
		_, err := s.Search(context.Background(), rs)
		require.NoError(t, err)

		got := groupPairs(rs)
		require.NotEmpty(t, got)
		if baseline == nil {
			baseline = got
			continue
		}
		assert.Equal(t, baseline, got, "chunk size %d", chunk)
	}
}

func groupPairs(rs *model.RecordSet) []string {
	order, members := rs.Groups()
	var out []string
	for _, gid := range order {
		var ids []string
		for _, r := range members[gid] {
			ids = append(ids, r.ID)
		}
		slices.Sort(ids)
		out = append(out, fmt.Sprint(ids))
	}
	slices.Sort(out)
	return out
}

func TestSimilaritySearcher_BatchesPreserveOrder(t *testing.T) {
	vectors := map[string][]float32{}
	rows := make([]map[string]any, 0, 11)
	for i := range 11 {
		text := fmt.Sprintf("item %d", i)
		v := make([]float32, 11)
		v[i] = 1
		vectors[text] = v
		rows = append(rows, map[string]any{"id": fmt.Sprint(i), "DESCR": text})
	}
	emb := &MockEmbedder{Dim: 11, Vectors: vectors}
	rs := model.NewRecordSet(rows, "id")

	s := testSearcher(emb)
	s.BatchSize = 3
	s.Concurrency = 4
	_, err := s.Search(context.Background(), rs)
	require.NoError(t, err)

	assert.Len(t, emb.Batches, 4)
	for _, r := range rs.Records {
		assert.Equal(t, vectors[r.NormalizedText], r.Embedding)
	}
}

func TestSimilaritySearcher_EmbeddingFailureAborts(t *testing.T) {
	emb := &MockEmbedder{Dim: 2, Err: errQuota}
	rs := model.NewRecordSet([]map[string]any{
		{"id": "1", "DESCR": "a"},
		{"id": "2", "DESCR": "a"},
	}, "id")

	_, err := testSearcher(emb).Search(context.Background(), rs)
	var ce *CollaboratorError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "embed", ce.Op)
	assert.ErrorIs(t, err, errQuota)
	for _, r := range rs.Records {
		assert.False(t, r.Grouped())
	}
}

func TestSimilaritySearcher_DataErrors(t *testing.T) {
	rows := []map[string]any{{"id": "1", "DESCR": "a"}, {"id": "2", "DESCR": "b"}}

	_, err := testSearcher(&MockEmbedder{Dim: 2, Short: true}).Search(context.Background(), model.NewRecordSet(rows, "id"))
	assert.True(t, IsDataError(err), "short batch")

	_, err = testSearcher(&MockEmbedder{Dim: 0}).Search(context.Background(), model.NewRecordSet(rows, "id"))
	assert.True(t, IsDataError(err), "zero dimensions")

	ragged := &MockEmbedder{Dim: 2, Vectors: map[string][]float32{"a": {1, 0, 0}}}
	_, err = testSearcher(ragged).Search(context.Background(), model.NewRecordSet(rows, "id"))
	assert.True(t, IsDataError(err), "ragged dimensions")

	noText := model.NewRecordSet([]map[string]any{{"id": "1", "name": "x"}}, "id")
	_, err = testSearcher(&MockEmbedder{Dim: 2}).Search(context.Background(), noText)
	assert.True(t, IsDataError(err), "no description fields")
}

func TestSimilaritySearcher_NothingLeft(t *testing.T) {
	emb := &MockEmbedder{Dim: 2}
	rs := model.NewRecordSet([]map[string]any{{"id": "1", "DESCR": "a"}}, "id")
	rs.Records[0].GroupID = "exact_x_1"

	stats, err := testSearcher(emb).Search(context.Background(), rs)
	require.NoError(t, err)
	assert.Zero(t, stats.Candidates)
	assert.Empty(t, emb.Batches)
}

func TestSimilaritySearcher_RepeatedIDsKeepGroupsApart(t *testing.T) {
	emb := &MockEmbedder{Dim: 2, Vectors: map[string][]float32{
		"red apple": {1, 0},
		"blue car":  {0, 1},
	}}
	rs := model.NewRecordSet([]map[string]any{
		{"id": "x", "DESCR": "red apple"},
		{"id": "y", "DESCR": "red apple"},
		{"id": "x", "DESCR": "blue car"},
		{"id": "z", "DESCR": "blue car"},
	}, "id")

	stats, err := testSearcher(emb).Search(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Groups)

	assert.Equal(t, "fuzzy_x", rs.Records[0].GroupID)
	assert.Equal(t, "fuzzy_x", rs.Records[1].GroupID)
	assert.Equal(t, "fuzzy_x_2", rs.Records[2].GroupID)
	assert.Equal(t, "fuzzy_x_2", rs.Records[3].GroupID)

	order, members := rs.Groups()
	require.Len(t, order, 2)
	for _, gid := range order {
		assert.Len(t, members[gid], 2, gid)
	}
}

func TestFuzzyGroupID(t *testing.T) {
	used := map[string]bool{"fuzzy_a": true, "fuzzy_a_2": true}
	assert.Equal(t, "fuzzy_a_3", fuzzyGroupID("a", used))
	assert.Equal(t, "fuzzy_b", fuzzyGroupID("b", used))
	assert.True(t, used["fuzzy_a_3"])
	assert.True(t, used["fuzzy_b"])
}

func TestSimilaritySearcher_DescriptionsOnlyOnGroupedRecords(t *testing.T) {
	rs := model.NewRecordSet([]map[string]any{
		{"id": "1", "item_code": "A", "DESCR": "widget"},
		{"id": "2", "item_code": "A", "DESCR": "widget"},
		{"id": "3", "name": "gadget"},
		{"id": "4", "name": "gizmo"},
	}, "id")
	NewExactMatcher([]string{"item_code"}).Match(rs)

	emb := &MockEmbedder{Dim: 2}
	_, err := testSearcher(emb).Search(context.Background(), rs)
	assert.True(t, IsDataError(err))
	assert.Empty(t, emb.Batches)
}
