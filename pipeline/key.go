package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/guarzo/eveDMV-sub012/types"
)

const keyPrefix = "intel:v1"

// hashAbove is the entity count beyond which the id segment is hashed to keep
// keys short.
const hashAbove = 20

// ReportKey is the cache key of a report. It depends on the domain, the set of
// entity ids, the scope and the set of plugin names; order and duplicates in
// ids or plugins do not matter.
func ReportKey(domain types.Domain, ids []int64, scope types.Scope, plugins []string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyPrefix, domain, idSegment(ids), scope, nameSegment(plugins))
}

// FragmentKey is the cache key of one plugin's fragment under its declared prefix.
func FragmentKey(prefix string, domain types.Domain, ids []int64, scope types.Scope) string {
	return fmt.Sprintf("%s:frag:%s:%s:%s:%s", keyPrefix, prefix, domain, idSegment(ids), scope)
}

// entityPatterns returns glob patterns matching every report and fragment key
// whose id segment lists id. Hashed id segments are not matched.
func entityPatterns(domain types.Domain, id int64) []string {
	n := strconv.FormatInt(id, 10)
	segments := []string{n + ":", n + ",*:", "*," + n + ",*:", "*," + n + ":"}

	patterns := make([]string, 0, 2*len(segments))
	for _, seg := range segments {
		patterns = append(patterns,
			fmt.Sprintf("%s:%s:%s*", keyPrefix, domain, seg),
			fmt.Sprintf("%s:frag:*:%s:%s*", keyPrefix, domain, seg),
		)
	}
	return patterns
}

func idSegment(ids []int64) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	joined := strings.Join(parts, ",")
	if len(sorted) <= hashAbove {
		return joined
	}
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("h%d-%s", len(sorted), hex.EncodeToString(sum[:16]))
}

func nameSegment(names []string) string {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}
