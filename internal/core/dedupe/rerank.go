package dedupe

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// AdjudicationStats counts the per-group outcomes of an adjudication stage.
type AdjudicationStats struct {
	Groups    int `json:"groups"`
	Confirmed int `json:"confirmed"`
	Dissolved int `json:"dissolved"`
	Failed    int `json:"failed"`
}

// groupJob is one group sent to the adjudicator. Targets are the members the
// stage selected; Members is everything holding the group id.
type groupJob struct {
	GroupID string
	Targets []*model.Record
	Members []*model.Record
	Prompt  string
}

// Reranker re-scores fuzzy groups whose fused score sits in the gray area
// below PrecisionThreshold. A failed or unparsable call leaves the group as is.
type Reranker struct {
	Adjudicator       Adjudicator
	DescriptionFields []string

	PrecisionThreshold float64
	DemotionThreshold  float64

	Prompt      string
	Concurrency int
}

func NewReranker(adj Adjudicator, cfg config.DedupConfig, prompt string, concurrency int) *Reranker {
	return &Reranker{
		Adjudicator:        adj,
		DescriptionFields:  cfg.DescriptionFields,
		PrecisionThreshold: cfg.PrecisionThreshold,
		DemotionThreshold:  cfg.DemotionThreshold,
		Prompt:             prompt,
		Concurrency:        concurrency,
	}
}

func (r *Reranker) Rerank(ctx context.Context, rs *model.RecordSet) (AdjudicationStats, error) {
	var targeted []*model.Record
	for _, rec := range rs.Records {
		if rec.MatchType == model.MatchFuzzyHybrid && rec.ConfidenceBelow(r.PrecisionThreshold) {
			targeted = append(targeted, rec)
		}
	}

	order, targets := model.GroupBy(targeted)
	_, members := rs.Groups()

	var jobs []groupJob
	for _, gid := range order {
		if len(targets[gid]) < 2 {
			continue
		}
		jobs = append(jobs, groupJob{
			GroupID: gid,
			Targets: targets[gid],
			Members: members[gid],
			Prompt:  buildPrompt(r.Prompt, DefaultRerankPrompt, targets[gid], r.DescriptionFields),
		})
	}

	stats := AdjudicationStats{Groups: len(jobs)}
	if len(jobs) == 0 {
		return stats, nil
	}

	scores := make([]float64, len(jobs))
	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(max(r.Concurrency, 1))
	for i, job := range jobs {
		g.Go(func() error {
			scores[i], errs[i] = r.Adjudicator.Score(ctx, job.Prompt)
			return nil
		})
	}
	_ = g.Wait()

	for i, job := range jobs {
		if errs[i] != nil {
			stats.Failed++
			zap.L().Warn("rerank failed, keeping group",
				zap.String("stage", "rerank"),
				zap.String("group_id", job.GroupID),
				zap.Error(errs[i]))
			continue
		}

		score := scores[i]
		for _, rec := range job.Targets {
			rec.SetConfidence(score)
		}
		if score < r.DemotionThreshold {
			for _, rec := range job.Members {
				rec.ClearGroup(model.MatchRerankDiscarded)
			}
			stats.Dissolved++
		} else {
			for _, rec := range job.Targets {
				rec.MatchType = model.MatchRerankVerified
			}
			stats.Confirmed++
		}

		zap.L().Debug("group reranked",
			zap.String("group_id", job.GroupID),
			zap.Float64("score", score),
			zap.Int("records", len(job.Targets)))
	}

	zap.L().Info("rerank complete",
		zap.String("stage", "rerank"),
		zap.Int("groups", stats.Groups),
		zap.Int("verified", stats.Confirmed),
		zap.Int("discarded", stats.Dissolved),
		zap.Int("failed", stats.Failed))

	return stats, ctx.Err()
}
