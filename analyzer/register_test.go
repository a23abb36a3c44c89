package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/eveDMV-sub012/analyzer/combatstats"
	"github.com/guarzo/eveDMV-sub012/analyzer/shipprefs"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

func TestRegister(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, Register(r, Config{TopShips: 3}))

	for _, domain := range types.Domains() {
		assert.ElementsMatch(t, Names(domain), r.List(domain), domain)
		assert.Equal(t, []string{combatstats.Name}, r.Defaults(domain, types.ScopeBasic))
		assert.Equal(t, Names(domain), r.Defaults(domain, types.ScopeFull))
	}

	assert.Equal(t,
		[]string{"combat-stats", "behavioral-patterns", "ship-preferences"},
		r.Defaults(types.DomainCharacter, types.ScopeStandard))

	results, err := r.ValidateAll()
	require.NoError(t, err, "built-in dependencies must resolve")
	assert.Len(t, results, 12)

	desc, ok := r.Descriptor(types.DomainFleet, shipprefs.Name)
	require.True(t, ok)
	assert.True(t, desc.CacheStrategy.Enabled())
	assert.True(t, desc.SupportsBatch)
}
