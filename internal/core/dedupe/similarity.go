package dedupe

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core/common"
	"github.com/agenthands/catalog-dedup/internal/core/model"
	"github.com/agenthands/catalog-dedup/internal/llm"
)

// SimilaritySearcher groups the records exact matching left behind, using a
// fused score of embedding cosine similarity and token overlap.
//
// Groups are not transitively closed. Rows are visited in set order and the
// first row to confirm a partner claims it; later rows skip claimed partners.
type SimilaritySearcher struct {
	Embedder          llm.EmbedderClient
	DescriptionFields []string

	PrimaryThreshold float64
	CandidateMargin  float64
	VectorWeight     float64
	LexicalWeight    float64

	ChunkSize   int
	BatchSize   int
	Concurrency int
}

func NewSimilaritySearcher(embedder llm.EmbedderClient, cfg config.DedupConfig, concurrency int) *SimilaritySearcher {
	return &SimilaritySearcher{
		Embedder:          embedder,
		DescriptionFields: cfg.DescriptionFields,
		PrimaryThreshold:  cfg.PrimaryThreshold,
		CandidateMargin:   cfg.CandidateMargin,
		VectorWeight:      cfg.VectorWeight,
		LexicalWeight:     cfg.LexicalWeight,
		ChunkSize:         cfg.ChunkSize,
		BatchSize:         cfg.EmbedBatchSize,
		Concurrency:       concurrency,
	}
}

// SearchStats summarizes one similarity pass.
type SearchStats struct {
	Candidates int `json:"candidates"`
	Groups     int `json:"groups"`
	Matched    int `json:"matched"`
}

// Search embeds the ungrouped records of rs and assigns fuzzy_hybrid groups.
// Any embedding failure aborts the pass with rs partially normalized but not regrouped.
func (s *SimilaritySearcher) Search(ctx context.Context, rs *model.RecordSet) (SearchStats, error) {
	remaining := rs.Ungrouped()
	stats := SearchStats{Candidates: len(remaining)}
	if len(remaining) == 0 {
		return stats, nil
	}
	if !model.HasAnyField(remaining, s.DescriptionFields) {
		return stats, &DataError{Msg: fmt.Sprintf("no record has any of the description fields %v", s.DescriptionFields)}
	}

	texts := make([]string, len(remaining))
	for i, r := range remaining {
		r.NormalizedText = s.normalize(r)
		texts[i] = r.NormalizedText
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return stats, err
	}
	for i, r := range remaining {
		r.Embedding = vectors[i]
	}

	full, err := unitRows(vectors)
	if err != nil {
		return stats, err
	}

	tokens := make([]map[string]struct{}, len(remaining))
	for i, t := range texts {
		tokens[i] = common.TokenSet(t)
	}

	taken, _ := rs.Groups()
	stats.Groups, stats.Matched = s.claim(remaining, full, tokens, taken)

	zap.L().Info("similarity search complete",
		zap.String("stage", "similarity"),
		zap.Int("records", len(remaining)),
		zap.Int("groups", stats.Groups),
		zap.Int("matched", stats.Matched))

	return stats, nil
}

func (s *SimilaritySearcher) normalize(r *model.Record) string {
	parts := make([]string, 0, len(s.DescriptionFields))
	for _, f := range s.DescriptionFields {
		v, _ := r.Value(f)
		parts = append(parts, v)
	}
	return common.NormalizeText(strings.Join(parts, " "))
}

// embed requests vectors in fixed-size batches. Batches may run in parallel but
// each one writes only to its own slots, so output order matches texts.
func (s *SimilaritySearcher) embed(ctx context.Context, texts []string) ([][]float32, error) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = len(texts)
	}
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		g.Go(func() error {
			vecs, err := s.Embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return &CollaboratorError{Op: "embed", Err: err}
			}
			if len(vecs) != end-start {
				return &DataError{Msg: fmt.Sprintf("embedding batch %d-%d returned %d vectors", start, end, len(vecs))}
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// unitRows packs vectors into a matrix of L2-normalized rows. Zero vectors stay
// zero so their cosine against anything is 0.
func unitRows(vectors [][]float32) (*mat.Dense, error) {
	dim := len(vectors[0])
	if dim == 0 {
		return nil, &DataError{Msg: "embedding has zero dimensions"}
	}
	data := make([]float64, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, &DataError{Msg: fmt.Sprintf("embedding %d has %d dimensions, want %d", i, len(v), dim)}
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		row := data[i*dim : (i+1)*dim]
		for j, x := range v {
			row[j] = float64(x) / norm
		}
	}
	return mat.NewDense(len(vectors), dim, data), nil
}

// claim runs the chunked search. Only chunk×n similarities are held at once.
// taken lists group ids already in use; new ids never reuse them.
func (s *SimilaritySearcher) claim(recs []*model.Record, full *mat.Dense, tokens []map[string]struct{}, taken []string) (groups, matched int) {
	n, dim := full.Dims()
	chunk := s.ChunkSize
	if chunk <= 0 || chunk > n {
		chunk = n
	}
	floor := s.PrimaryThreshold - s.CandidateMargin
	buf := make([]float64, chunk*n)
	visited := make([]bool, n)
	used := make(map[string]bool, len(taken))
	for _, gid := range taken {
		used[gid] = true
	}

	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		sims := mat.NewDense(end-start, n, buf[:(end-start)*n])
		sims.Mul(full.Slice(start, end, 0, dim), full.T())

		for i := start; i < end; i++ {
			if visited[i] {
				continue
			}
			anchor := recs[i]
			groupID := ""
			best := -1.0

			for j := 0; j < n; j++ {
				if j == i || visited[j] {
					continue
				}
				cos := sims.At(i-start, j)
				if cos <= floor {
					continue
				}
				score := s.VectorWeight*cos + s.LexicalWeight*common.Overlap(tokens[i], tokens[j])
				if score <= s.PrimaryThreshold {
					continue
				}

				if groupID == "" {
					groupID = fuzzyGroupID(anchor.ID, used)
				}
				visited[j] = true
				partner := recs[j]
				partner.GroupID = groupID
				partner.MatchType = model.MatchFuzzyHybrid
				partner.SetConfidence(score)
				matched++
				best = max(best, score)
			}

			if best >= 0 {
				visited[i] = true
				anchor.GroupID = groupID
				anchor.MatchType = model.MatchFuzzyHybrid
				anchor.SetConfidence(best)
				matched++
				groups++
			}
		}

		zap.L().Debug("similarity chunk processed",
			zap.Int("chunk_start", start),
			zap.Int("chunk_end", end),
			zap.Int("total", n))
	}
	return groups, matched
}

// fuzzyGroupID returns fuzzy_<id>, or fuzzy_<id>_<n> when record ids repeat,
// and marks the result as used.
func fuzzyGroupID(id string, used map[string]bool) string {
	gid := "fuzzy_" + id
	for n := 2; used[gid]; n++ {
		gid = fmt.Sprintf("fuzzy_%s_%d", id, n)
	}
	used[gid] = true
	return gid
}
