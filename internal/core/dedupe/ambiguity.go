package dedupe

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// AmbiguityResolver asks a yes/no question about every group holding a member
// with the ambiguous label and a confidence strictly inside (Low, High).
type AmbiguityResolver struct {
	Adjudicator       Adjudicator
	DescriptionFields []string

	Label model.MatchType
	Low   float64
	High  float64

	Prompt      string
	Concurrency int
}

func NewAmbiguityResolver(adj Adjudicator, cfg config.DedupConfig, prompt string, concurrency int) *AmbiguityResolver {
	return &AmbiguityResolver{
		Adjudicator:       adj,
		DescriptionFields: cfg.DescriptionFields,
		Label:             model.MatchType(cfg.AmbiguousLabel),
		Low:               cfg.AmbiguousLow,
		High:              cfg.AmbiguousHigh,
		Prompt:            prompt,
		Concurrency:       concurrency,
	}
}

func (a *AmbiguityResolver) Resolve(ctx context.Context, rs *model.RecordSet) (AdjudicationStats, error) {
	order, members := rs.Groups()

	var jobs []groupJob
	for _, gid := range order {
		group := members[gid]
		if len(group) < 2 || !a.ambiguous(group) {
			continue
		}
		jobs = append(jobs, groupJob{
			GroupID: gid,
			Targets: group,
			Members: group,
			Prompt:  buildPrompt(a.Prompt, DefaultAmbiguityPrompt, group, a.DescriptionFields),
		})
	}

	stats := AdjudicationStats{Groups: len(jobs)}
	if len(jobs) == 0 {
		return stats, nil
	}

	verdicts := make([]Verdict, len(jobs))
	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(max(a.Concurrency, 1))
	for i, job := range jobs {
		g.Go(func() error {
			verdicts[i], errs[i] = a.Adjudicator.Decide(ctx, job.Prompt)
			return nil
		})
	}
	_ = g.Wait()

	for i, job := range jobs {
		if errs[i] != nil {
			stats.Failed++
			zap.L().Warn("ambiguity check failed, keeping group",
				zap.String("stage", "ambiguity"),
				zap.String("group_id", job.GroupID),
				zap.Error(errs[i]))
			continue
		}

		if verdicts[i] == VerdictYes {
			for _, rec := range job.Members {
				rec.MatchType = model.MatchLLMMatched
			}
			stats.Confirmed++
		} else {
			for _, rec := range job.Members {
				rec.ClearGroup(model.MatchLLMDiscarded)
			}
			stats.Dissolved++
		}
	}

	zap.L().Info("ambiguity resolution complete",
		zap.String("stage", "ambiguity"),
		zap.Int("groups", stats.Groups),
		zap.Int("matched", stats.Confirmed),
		zap.Int("discarded", stats.Dissolved),
		zap.Int("failed", stats.Failed))

	return stats, ctx.Err()
}

func (a *AmbiguityResolver) ambiguous(group []*model.Record) bool {
	for _, rec := range group {
		if rec.MatchType == a.Label && rec.ConfidenceBetween(a.Low, a.High) {
			return true
		}
	}
	return false
}
