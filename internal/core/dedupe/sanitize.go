package dedupe

import (
	"github.com/agenthands/catalog-dedup/internal/core/model"
)

// SanitizeGroups clears group_id and match_type on every record whose group
// has no other member, and returns how many records it cleared.
func SanitizeGroups(rs *model.RecordSet) int {
	_, members := rs.Groups()
	cleared := 0
	for _, group := range members {
		if len(group) == 1 {
			group[0].ClearGroup(model.MatchNone)
			cleared++
		}
	}
	return cleared
}
