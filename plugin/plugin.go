package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Plugin is the contract every analyzer implements.
type Plugin interface {
	// Info describes the plugin. It is called once at registration.
	Info() Info

	// Analyze computes this plugin's fragment of the report. Data in req is a
	// read-only snapshot and must not be modified.
	Analyze(ctx context.Context, req Request) (any, error)
}

// BatchSupporter is implemented by plugins that can analyze several entities in
// one call. Plugins that do not implement it are treated as single-entity.
type BatchSupporter interface {
	SupportsBatch() bool
}

// DependencyDeclarer is implemented by plugins that need other plugins or
// external capabilities to be present.
type DependencyDeclarer interface {
	Dependencies() []Dependency
}

// CacheStrategist is implemented by plugins whose fragments can be cached
// independently of the full report.
type CacheStrategist interface {
	CacheStrategy() CacheStrategy
}

// Info is the self-description a plugin returns at registration.
type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Author      string   `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Validate checks the required fields.
func (i Info) Validate() error {
	var missing []string
	if i.Name == "" {
		missing = append(missing, "name")
	}
	if i.Version == "" {
		missing = append(missing, "version")
	}
	if i.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields %v", missing)
	}
	return nil
}

// DependencyKind says what a dependency refers to.
type DependencyKind string

// Dependency kinds
const (
	DependsOnPlugin     DependencyKind = "plugin"
	DependsOnCapability DependencyKind = "capability"
)

// Dependency is one requirement declared by a plugin.
type Dependency struct {
	Kind DependencyKind `json:"kind"`
	Name string         `json:"name"`
	// Domain is only used for plugin dependencies; empty means the
	// declaring plugin's own domain.
	Domain types.Domain `json:"domain,omitempty"`
}

// RequiresPlugin declares a dependency on another plugin in the same domain.
func RequiresPlugin(name string) Dependency {
	return Dependency{Kind: DependsOnPlugin, Name: name}
}

// RequiresCapability declares a dependency on an external capability.
func RequiresCapability(name string) Dependency {
	return Dependency{Kind: DependsOnCapability, Name: name}
}

func (d Dependency) String() string {
	if d.Kind == DependsOnPlugin && d.Domain != "" {
		return fmt.Sprintf("%s:%s/%s", d.Kind, d.Domain, d.Name)
	}
	return fmt.Sprintf("%s:%s", d.Kind, d.Name)
}

// CacheStrategy controls per-plugin fragment caching. The zero value inherits
// the pipeline's report cache and disables fragment caching.
type CacheStrategy struct {
	TTL       time.Duration `json:"ttl"`
	KeyPrefix string        `json:"key_prefix"`
}

// Enabled reports whether fragments should be cached separately.
func (c CacheStrategy) Enabled() bool {
	return c.TTL > 0 && c.KeyPrefix != ""
}

// Options are the caller-controlled knobs passed through to every plugin.
type Options struct {
	Scope types.Scope `json:"scope"`
}

// Request is the input of one Analyze call.
type Request struct {
	Domain    types.Domain
	EntityIDs []int64
	Data      *types.BaseData
	Options   Options
}

// EntityData returns the stats for id, or a not-found error if the base data
// has no entry for it.
func EntityData(req Request, id int64) (types.EntityStats, error) {
	stats, ok := req.Data.Entity(id)
	if !ok {
		return types.EntityStats{}, errors.New(errors.ErrEntityNotFound, errors.ErrorInvalid,
			"plugin", "EntityData", fmt.Sprintf("entity %d not in base data", id))
	}
	return stats, nil
}

// PrimaryEntity returns the stats of the first requested entity.
func PrimaryEntity(req Request) (types.EntityStats, error) {
	if len(req.EntityIDs) == 0 {
		return types.EntityStats{}, errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid,
			"plugin", "PrimaryEntity", "request has no entity ids")
	}
	return EntityData(req, req.EntityIDs[0])
}
