package model

import (
	"fmt"
	"maps"
	"slices"
)

// DefaultIDField is the identity column used when none is configured.
const DefaultIDField = "id"

// RecordSet is the collection every pipeline stage reads and mutates in place.
// It is not safe for concurrent mutation; the pipeline driver owns it for a run.
type RecordSet struct {
	Records []*Record
}

// NewRecordSet wraps raw rows. The identity comes from idField, or from the
// row's ordinal when the column is absent or null.
func NewRecordSet(rows []map[string]any, idField string) *RecordSet {
	if idField == "" {
		idField = DefaultIDField
	}
	rs := &RecordSet{Records: make([]*Record, 0, len(rows))}
	for i, row := range rows {
		rec := &Record{Fields: row}
		if rec.Fields == nil {
			rec.Fields = map[string]any{}
		}
		if id, ok := rec.Value(idField); ok {
			rec.ID = id
		} else {
			rec.ID = fmt.Sprintf("row-%d", i)
		}
		rs.Records = append(rs.Records, rec)
	}
	return rs
}

func (rs *RecordSet) Len() int {
	return len(rs.Records)
}

// Ungrouped returns the records without a group, in set order.
func (rs *RecordSet) Ungrouped() []*Record {
	var out []*Record
	for _, r := range rs.Records {
		if !r.Grouped() {
			out = append(out, r)
		}
	}
	return out
}

// Groups buckets grouped records by group id. The returned ids are in order of
// first appearance so callers iterate deterministically.
func (rs *RecordSet) Groups() ([]string, map[string][]*Record) {
	return GroupBy(rs.Records)
}

// GroupBy buckets the grouped records among recs by group id, preserving first
// appearance order.
func GroupBy(recs []*Record) ([]string, map[string][]*Record) {
	var order []string
	members := make(map[string][]*Record)
	for _, r := range recs {
		if !r.Grouped() {
			continue
		}
		if _, seen := members[r.GroupID]; !seen {
			order = append(order, r.GroupID)
		}
		members[r.GroupID] = append(members[r.GroupID], r)
	}
	return order, members
}

// HasAnyField reports whether at least one record carries a non-null value for
// one of the given fields.
func (rs *RecordSet) HasAnyField(fields []string) bool {
	return HasAnyField(rs.Records, fields)
}

// HasAnyField reports whether any of recs carries a non-null value for one of fields.
func HasAnyField(recs []*Record, fields []string) bool {
	for _, r := range recs {
		for _, f := range fields {
			if _, ok := r.Value(f); ok {
				return true
			}
		}
	}
	return false
}

// ReviewQueue returns the records flagged for manual review.
func (rs *RecordSet) ReviewQueue() []*Record {
	var out []*Record
	for _, r := range rs.Records {
		if r.ReviewRequired {
			out = append(out, r)
		}
	}
	return out
}

// Rows flattens every record for persistence.
func (rs *RecordSet) Rows() []map[string]any {
	rows := make([]map[string]any, len(rs.Records))
	for i, r := range rs.Records {
		rows[i] = r.Row()
	}
	return rows
}

// Columns returns the union of source column names in first-seen order,
// followed by the annotation columns.
func (rs *RecordSet) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	annotations := []string{ColumnGroupID, ColumnMatchType, ColumnConfidence, ColumnReviewRequired}
	for _, a := range annotations {
		seen[a] = true
	}
	for _, r := range rs.Records {
		for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return append(cols, annotations...)
}

// ClearTransient drops the per-run normalized text and embeddings.
func (rs *RecordSet) ClearTransient() {
	for _, r := range rs.Records {
		r.NormalizedText = ""
		r.Embedding = nil
	}
}
