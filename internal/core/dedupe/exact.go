package dedupe

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// ExactMatcher groups records sharing a natural-key value. Fields are tried in
// priority order and a record grouped by one field is never regrouped by a later one.
type ExactMatcher struct {
	KeyFields []string
}

func NewExactMatcher(keyFields []string) *ExactMatcher {
	return &ExactMatcher{KeyFields: keyFields}
}

// Match annotates rs in place and returns the number of groups formed.
func (m *ExactMatcher) Match(rs *model.RecordSet) int {
	formed := 0
	for _, field := range m.KeyFields {
		var order []string
		partitions := make(map[string][]*model.Record)
		for _, r := range rs.Records {
			if r.Grouped() {
				continue
			}
			v, ok := r.Value(field)
			if !ok {
				continue
			}
			if _, seen := partitions[v]; !seen {
				order = append(order, v)
			}
			partitions[v] = append(partitions[v], r)
		}

		fieldGroups := 0
		for _, v := range order {
			members := partitions[v]
			if len(members) < 2 {
				continue
			}
			groupID := exactGroupID(field, v)
			for _, r := range members {
				r.GroupID = groupID
				r.MatchType = model.ExactMatch(field)
			}
			fieldGroups++
		}
		formed += fieldGroups

		zap.L().Debug("exact key pass complete",
			zap.String("field", field),
			zap.Int("groups", fieldGroups))
	}
	return formed
}

func exactGroupID(field, value string) string {
	return fmt.Sprintf("exact_%s_%s", field, value)
}
