package pipeline

import (
	"github.com/guarzo/eveDMV-sub012/types"
)

// Options are the per-request knobs. The zero value means standard scope,
// the domain's default plugins, parallel execution and cache use.
type Options struct {
	Scope       types.Scope `json:"scope,omitempty"`
	Plugins     []string    `json:"plugins,omitempty"`
	Parallel    *bool       `json:"parallel,omitempty"`
	BypassCache bool        `json:"bypass_cache,omitempty"`
}

// Bool returns a pointer to b, for Options.Parallel.
func Bool(b bool) *bool {
	return &b
}

func (o Options) parallel() bool {
	return o.Parallel == nil || *o.Parallel
}

// Request asks for one report covering every id in EntityIDs.
type Request struct {
	Domain    types.Domain `json:"domain"`
	EntityIDs []int64      `json:"entity_ids"`
	Options   Options      `json:"options"`
}

// BatchResult is the outcome for one entity of a batch.
type BatchResult struct {
	Report *types.Report `json:"report,omitempty"`
	Err    error         `json:"-"`
}

// OK reports whether the entity produced a report.
func (r BatchResult) OK() bool {
	return r.Err == nil && r.Report != nil
}
