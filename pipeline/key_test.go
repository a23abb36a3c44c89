package pipeline

import (
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/eveDMV-sub012/types"
)

func TestReportKeyIsDeterministic(t *testing.T) {
	a := ReportKey(types.DomainCharacter, []int64{3, 1, 2}, types.ScopeStandard, []string{"b", "a"})
	b := ReportKey(types.DomainCharacter, []int64{1, 2, 3, 2}, types.ScopeStandard, []string{"a", "b", "a"})
	assert.Equal(t, a, b)
	assert.Equal(t, "intel:v1:character:1,2,3:standard:a,b", a)
}

func TestReportKeyDistinguishesInputs(t *testing.T) {
	base := ReportKey(types.DomainCharacter, []int64{1}, types.ScopeStandard, []string{"a"})
	variants := []string{
		ReportKey(types.DomainCorporation, []int64{1}, types.ScopeStandard, []string{"a"}),
		ReportKey(types.DomainCharacter, []int64{2}, types.ScopeStandard, []string{"a"}),
		ReportKey(types.DomainCharacter, []int64{1, 2}, types.ScopeStandard, []string{"a"}),
		ReportKey(types.DomainCharacter, []int64{1}, types.ScopeFull, []string{"a"}),
		ReportKey(types.DomainCharacter, []int64{1}, types.ScopeStandard, []string{"a", "b"}),
	}
	seen := map[string]bool{base: true}
	for _, v := range variants {
		assert.False(t, seen[v], v)
		seen[v] = true
	}
}

func TestLargeEntitySetsAreHashed(t *testing.T) {
	ids := make([]int64, 25)
	for i := range ids {
		ids[i] = int64(100 + i)
	}
	key := ReportKey(types.DomainFleet, ids, types.ScopeBasic, []string{"a"})
	assert.True(t, strings.HasPrefix(key, "intel:v1:fleet:h25-"), key)
	assert.Less(t, len(key), 80)

	reversed := make([]int64, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	assert.Equal(t, key, ReportKey(types.DomainFleet, reversed, types.ScopeBasic, []string{"a"}))
}

func TestFragmentKey(t *testing.T) {
	assert.Equal(t, "intel:v1:frag:ships:fleet:4,9:full",
		FragmentKey("ships", types.DomainFleet, []int64{9, 4}, types.ScopeFull))
}

func TestEntityPatterns(t *testing.T) {
	patterns := entityPatterns(types.DomainCharacter, 7)

	matches := func(key string) bool {
		for _, p := range patterns {
			ok, err := path.Match(p, key)
			require.NoError(t, err)
			if ok {
				return true
			}
		}
		return false
	}

	for _, ids := range [][]int64{{7}, {1, 7}, {7, 9}, {1, 7, 9}} {
		assert.True(t, matches(ReportKey(types.DomainCharacter, ids, types.ScopeBasic, []string{"x"})), ids)
		assert.True(t, matches(FragmentKey("p", types.DomainCharacter, ids, types.ScopeBasic)), ids)
	}
	for _, ids := range [][]int64{{70}, {17}, {1, 77}, {8}} {
		assert.False(t, matches(ReportKey(types.DomainCharacter, ids, types.ScopeBasic, []string{"x"})), ids)
	}
	assert.False(t, matches(ReportKey(types.DomainCorporation, []int64{7}, types.ScopeBasic, []string{"x"})))
}
