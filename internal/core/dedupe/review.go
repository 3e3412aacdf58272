package dedupe

import (
	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// ReviewFlagger marks low-confidence ambiguous records for manual review.
// It only ever sets the flag.
type ReviewFlagger struct {
	Label     model.MatchType
	Threshold float64
}

func NewReviewFlagger(label string, threshold float64) *ReviewFlagger {
	return &ReviewFlagger{Label: model.MatchType(label), Threshold: threshold}
}

// Flag returns the number of records newly flagged.
func (f *ReviewFlagger) Flag(rs *model.RecordSet) int {
	flagged := 0
	for _, rec := range rs.Records {
		if rec.ReviewRequired {
			continue
		}
		if rec.MatchType == f.Label && rec.ConfidenceBelow(f.Threshold) {
			rec.ReviewRequired = true
			flagged++
		}
	}
	return flagged
}
