package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// MatchType records how a record ended up in (or out of) a group.
type MatchType string

const (
	MatchNone            MatchType = ""
	MatchFuzzyHybrid     MatchType = "fuzzy_hybrid"
	MatchRerankVerified  MatchType = "rerank_verified"
	MatchRerankDiscarded MatchType = "rerank_discarded"
	MatchLLMMatched      MatchType = "llm_matched"
	MatchLLMDiscarded    MatchType = "llm_discarded"

	// MatchFuzzyEmbedding is the label the ambiguity and review stages filter on.
	// Nothing in the default pipeline produces it; see DESIGN.md.
	MatchFuzzyEmbedding MatchType = "fuzzy_embedding"
)

// ExactMatch returns the match type for a group formed on the given key field.
func ExactMatch(field string) MatchType {
	return MatchType("exact:" + field)
}

// IsExact reports whether m was produced by exact key grouping.
func (m MatchType) IsExact() bool {
	return strings.HasPrefix(string(m), "exact:")
}

// Annotation column names written alongside the source columns.
const (
	ColumnGroupID        = "group_id"
	ColumnMatchType      = "match_type"
	ColumnConfidence     = "confidence"
	ColumnReviewRequired = "review_required"
)

// Record is one catalog row plus the annotations the pipeline writes.
// An empty GroupID means the record is ungrouped.
type Record struct {
	ID     string
	Fields map[string]any

	// Transient, only populated while the similarity stage runs.
	NormalizedText string
	Embedding      []float32

	GroupID        string
	MatchType      MatchType
	Confidence     *float64
	ReviewRequired bool
}

// Value returns the trimmed string form of a source field. The second result
// is false when the column is missing, nil, or blank.
func (r *Record) Value(field string) (string, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case float64:
		if math.IsNaN(t) {
			return "", false
		}
		// JSON numbers decode as float64; keep integral codes free of exponents
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			s = fmt.Sprintf("%d", int64(t))
		} else {
			s = fmt.Sprint(t)
		}
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func (r *Record) Grouped() bool {
	return r.GroupID != ""
}

// SetConfidence stores a copy of c.
func (r *Record) SetConfidence(c float64) {
	r.Confidence = &c
}

// ConfidenceBelow reports whether the record has a confidence strictly below t.
func (r *Record) ConfidenceBelow(t float64) bool {
	return r.Confidence != nil && *r.Confidence < t
}

// ConfidenceBetween reports whether the record's confidence lies strictly inside (lo, hi).
func (r *Record) ConfidenceBetween(lo, hi float64) bool {
	return r.Confidence != nil && *r.Confidence > lo && *r.Confidence < hi
}

// ClearGroup drops the group assignment. Confidence is kept as an audit trail.
func (r *Record) ClearGroup(mt MatchType) {
	r.GroupID = ""
	r.MatchType = mt
}

// Row flattens the record into its source columns plus the annotation columns.
// Null annotations are emitted as nil.
func (r *Record) Row() map[string]any {
	row := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		row[k] = v
	}
	row[ColumnGroupID] = nil
	if r.GroupID != "" {
		row[ColumnGroupID] = r.GroupID
	}
	row[ColumnMatchType] = nil
	if r.MatchType != MatchNone {
		row[ColumnMatchType] = string(r.MatchType)
	}
	row[ColumnConfidence] = nil
	if r.Confidence != nil {
		row[ColumnConfidence] = *r.Confidence
	}
	row[ColumnReviewRequired] = r.ReviewRequired
	return row
}

// ColumnRecordID carries the record identity in JSON responses only.
const ColumnRecordID = "record_id"

func (r *Record) MarshalJSON() ([]byte, error) {
	row := r.Row()
	row[ColumnRecordID] = r.ID
	return json.Marshal(row)
}
