// Package analyzer wires the built-in analyzers into a plugin registry.
package analyzer

import (
	"github.com/guarzo/eveDMV-sub012/analyzer/behavior"
	"github.com/guarzo/eveDMV-sub012/analyzer/combatstats"
	"github.com/guarzo/eveDMV-sub012/analyzer/shipprefs"
	"github.com/guarzo/eveDMV-sub012/analyzer/threat"
	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Config tunes the built-in analyzers.
type Config struct {
	// TopShips is how many hulls ship-preferences reports.
	TopShips int `json:"top_ships" yaml:"top_ships"`
}

// catalog lists which analyzers serve which domain. The order is the serial
// execution order of the defaults.
var catalog = map[types.Domain][]string{
	types.DomainCharacter:   {combatstats.Name, behavior.Name, shipprefs.Name, threat.Name},
	types.DomainCorporation: {combatstats.Name, behavior.Name, shipprefs.Name},
	types.DomainFleet:       {combatstats.Name, shipprefs.Name},
	types.DomainThreat:      {combatstats.Name, behavior.Name, threat.Name},
}

// Register adds every built-in analyzer to r and sets the per-scope defaults:
// basic runs combat-stats only, standard adds behavior and ships, full runs
// everything the domain supports.
func Register(r *plugin.Registry, cfg Config) error {
	for domain, names := range catalog {
		for _, name := range names {
			if err := r.Register(domain, name, build(name, cfg)); err != nil {
				return errors.Wrap(err, "analyzer", "Register", "register "+string(domain)+"/"+name)
			}
		}

		r.SetDefaults(domain, types.ScopeBasic, []string{combatstats.Name})
		r.SetDefaults(domain, types.ScopeStandard, standard(names))
		r.SetDefaults(domain, types.ScopeFull, names)
	}
	return nil
}

func build(name string, cfg Config) plugin.Plugin {
	switch name {
	case combatstats.Name:
		return combatstats.New()
	case behavior.Name:
		return behavior.New()
	case shipprefs.Name:
		return shipprefs.New(cfg.TopShips)
	case threat.Name:
		return threat.New()
	default:
		return nil
	}
}

func standard(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != threat.Name {
			out = append(out, n)
		}
	}
	return out
}

// Names returns the analyzers available for domain.
func Names(domain types.Domain) []string {
	return append([]string(nil), catalog[domain]...)
}
