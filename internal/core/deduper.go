package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core/dedupe"
	"github.com/agenthands/catalog-dedup/internal/core/model"
	"github.com/agenthands/catalog-dedup/internal/driver"
	"github.com/agenthands/catalog-dedup/internal/llm"
	"github.com/agenthands/catalog-dedup/internal/metrics"
)

// Deduper runs the matching stages in order over one RecordSet. It owns the
// set for the duration of a run; stages never run concurrently with each other.
type Deduper struct {
	Store   driver.RecordStore
	idField string

	Exact      *dedupe.ExactMatcher
	Similarity *dedupe.SimilaritySearcher
	Reranker   *dedupe.Reranker
	Resolver   *dedupe.AmbiguityResolver
	Flagger    *dedupe.ReviewFlagger
}

func NewDeduper(cfg *config.Config, embedder llm.EmbedderClient, adj dedupe.Adjudicator, store driver.RecordStore) *Deduper {
	d := cfg.Dedup
	return &Deduper{
		Store:      store,
		idField:    d.IDField,
		Exact:      dedupe.NewExactMatcher(d.KeyFields),
		Similarity: dedupe.NewSimilaritySearcher(embedder, d, cfg.Concurrency.Embedding),
		Reranker:   dedupe.NewReranker(adj, d, cfg.Prompts.Rerank, cfg.Concurrency.Adjudication),
		Resolver:   dedupe.NewAmbiguityResolver(adj, d, cfg.Prompts.Ambiguity, cfg.Concurrency.Adjudication),
		Flagger:    dedupe.NewReviewFlagger(d.AmbiguousLabel, d.ReviewThreshold),
	}
}

// IDField is the identity column records are keyed by.
func (d *Deduper) IDField() string {
	if d.idField == "" {
		return model.DefaultIDField
	}
	return d.idField
}

// Stats reports what each stage did during a run.
type Stats struct {
	ExactGroups int                      `json:"exact_groups"`
	Similarity  dedupe.SearchStats       `json:"similarity"`
	Rerank      dedupe.AdjudicationStats `json:"rerank"`
	Ambiguity   dedupe.AdjudicationStats `json:"ambiguity"`
	Flagged     int                      `json:"review_flagged"`
	Sanitized   int                      `json:"sanitized"`
	Groups      int                      `json:"groups"`
	DurationMS  int64                    `json:"duration_ms"`
}

type Result struct {
	Records     *model.RecordSet `json:"-"`
	Processed   int              `json:"processed_count"`
	Stats       Stats            `json:"stats"`
	OutputTable string           `json:"output_table,omitempty"`
}

// Run annotates rs in place. Exact and similarity failures abort the run;
// adjudication failures are isolated per group and only counted.
func (d *Deduper) Run(ctx context.Context, rs *model.RecordSet) (*Result, error) {
	res, err := d.run(ctx, rs)
	if err != nil {
		metrics.RecordRun(metrics.StatusFailed)
		return nil, err
	}
	metrics.RecordRun(metrics.StatusSuccess)
	metrics.RecordProcessed(res.Processed)
	return res, nil
}

func (d *Deduper) run(ctx context.Context, rs *model.RecordSet) (*Result, error) {
	if rs == nil || rs.Len() == 0 {
		return nil, &dedupe.DataError{Msg: "record collection is empty"}
	}
	start := time.Now()
	stats := Stats{}
	logger := zap.L().With(zap.Int("records", rs.Len()))
	logger.Info("dedup run started")

	timed("exact", func() {
		stats.ExactGroups = d.Exact.Match(rs)
	})
	logger.Info("exact matching complete", zap.String("stage", "exact"), zap.Int("groups", stats.ExactGroups))

	var err error
	timed("similarity", func() {
		stats.Similarity, err = d.Similarity.Search(ctx, rs)
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	timed("rerank", func() {
		stats.Rerank, err = d.Reranker.Rerank(ctx, rs)
	})
	recordAdjudications("rerank", stats.Rerank)
	if err != nil {
		return nil, fmt.Errorf("rerank interrupted: %w", err)
	}

	timed("ambiguity", func() {
		stats.Ambiguity, err = d.Resolver.Resolve(ctx, rs)
	})
	recordAdjudications("ambiguity", stats.Ambiguity)
	if err != nil {
		return nil, fmt.Errorf("ambiguity resolution interrupted: %w", err)
	}

	timed("review", func() {
		stats.Flagged = d.Flagger.Flag(rs)
	})
	timed("sanitize", func() {
		stats.Sanitized = dedupe.SanitizeGroups(rs)
	})

	rs.ClearTransient()

	order, members := rs.Groups()
	stats.Groups = len(order)
	for _, gid := range order {
		metrics.RecordGroup(string(members[gid][0].MatchType))
	}
	stats.DurationMS = time.Since(start).Milliseconds()

	logger.Info("dedup run complete",
		zap.Int("groups", stats.Groups),
		zap.Int("review_flagged", stats.Flagged),
		zap.Int("sanitized", stats.Sanitized),
		zap.Int("adjudication_failures", stats.Rerank.Failed+stats.Ambiguity.Failed),
		zap.Duration("duration", time.Since(start)))

	return &Result{Records: rs, Processed: rs.Len(), Stats: stats}, nil
}

// RunTable fetches ref from the store, runs the pipeline and persists the result.
func (d *Deduper) RunTable(ctx context.Context, ref driver.TableRef, limit int) (*Result, error) {
	if d.Store == nil {
		return nil, errors.New("no record store configured")
	}
	if err := ref.Validate(); err != nil {
		return nil, &dedupe.DataError{Msg: err.Error()}
	}

	rs, err := d.Store.Fetch(ctx, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}

	res, err := d.Run(ctx, rs)
	if err != nil {
		return nil, err
	}

	loc, err := d.Store.Persist(ctx, ref, rs)
	if err != nil {
		return nil, fmt.Errorf("failed to persist results for %s: %w", ref, err)
	}
	res.OutputTable = loc

	zap.L().Info("results persisted", zap.String("table", ref.String()), zap.String("output", loc))
	return res, nil
}

// Preview returns the first n rows of ref without running anything.
func (d *Deduper) Preview(ctx context.Context, ref driver.TableRef, n int) (*model.RecordSet, error) {
	if d.Store == nil {
		return nil, errors.New("no record store configured")
	}
	if err := ref.Validate(); err != nil {
		return nil, &dedupe.DataError{Msg: err.Error()}
	}
	return d.Store.Fetch(ctx, ref, n)
}

func timed(stage string, fn func()) {
	start := time.Now()
	fn()
	metrics.ObserveStage(stage, time.Since(start))
}

func recordAdjudications(stage string, s dedupe.AdjudicationStats) {
	metrics.RecordAdjudications(stage, "confirmed", s.Confirmed)
	metrics.RecordAdjudications(stage, "dissolved", s.Dissolved)
	metrics.RecordAdjudications(stage, "failed", s.Failed)
}
