package plugin

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"sync"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/types"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Descriptor is the registration-time snapshot of a plugin.
type Descriptor struct {
	Name          string        `json:"name"`
	Domain        types.Domain  `json:"domain"`
	Version       string        `json:"version"`
	Description   string        `json:"description"`
	Author        string        `json:"author,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	Dependencies  []Dependency  `json:"dependencies,omitempty"`
	SupportsBatch bool          `json:"supports_batch"`
	CacheStrategy CacheStrategy `json:"cache_strategy"`
}

type entry struct {
	impl Plugin
	desc Descriptor
	kind string
}

type scopeKey struct {
	domain types.Domain
	scope  types.Scope
}

// Registry is the catalog of plugins by domain and name. It is safe for
// concurrent use; all writes go through one lock.
type Registry struct {
	mu           sync.RWMutex
	plugins      map[types.Domain]map[string]*entry
	metadata     map[string]Info // implementation type -> last Info seen
	capabilities map[string]bool
	defaults     map[scopeKey][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins:      make(map[types.Domain]map[string]*entry),
		metadata:     make(map[string]Info),
		capabilities: make(map[string]bool),
		defaults:     make(map[scopeKey][]string),
	}
}

// Register validates impl and stores it under (domain, name). Re-registering
// an existing name overwrites it.
func (r *Registry) Register(domain types.Domain, name string, impl any) error {
	if !domain.Valid() {
		return errors.New(errors.ErrInvalidDomain, errors.ErrorInvalid, "Registry", "Register", fmt.Sprintf("%q", domain))
	}
	if !namePattern.MatchString(name) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
			fmt.Sprintf("plugin name %q validation", name))
	}

	p, ok := impl.(Plugin)
	if !ok || p == nil {
		return errors.New(errors.ErrMissingPluginContract, errors.ErrorInvalid, "Registry", "Register",
			fmt.Sprintf("%s/%s: %T does not implement Info and Analyze", domain, name, impl))
	}

	info, err := safeInfo(p)
	if err != nil {
		return errors.New(errors.ErrPluginInfo, errors.ErrorInvalid, "Registry", "Register",
			fmt.Sprintf("%s/%s: %v", domain, name, err))
	}
	if err := info.Validate(); err != nil {
		return errors.New(errors.ErrPluginInfo, errors.ErrorInvalid, "Registry", "Register",
			fmt.Sprintf("%s/%s: %v", domain, name, err))
	}

	desc, err := describe(domain, name, p, info)
	if err != nil {
		return errors.New(errors.ErrPluginInfo, errors.ErrorInvalid, "Registry", "Register",
			fmt.Sprintf("%s/%s: %v", domain, name, err))
	}

	kind := implKind(p)

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, exists := r.plugins[domain]
	if !exists {
		byName = make(map[string]*entry)
		r.plugins[domain] = byName
	}
	previous := byName[name]
	byName[name] = &entry{impl: p, desc: desc, kind: kind}
	r.metadata[kind] = info
	if previous != nil && previous.kind != kind {
		r.purgeLocked(previous.kind)
	}
	return nil
}

// safeInfo calls Info, converting a panic into an error.
func safeInfo(p Plugin) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Info panicked: %v", r)
		}
	}()
	return p.Info(), nil
}

// describe builds the descriptor, probing the optional capabilities. A panic
// in any of them fails registration like a panic in Info.
func describe(domain types.Domain, name string, p Plugin, info Info) (desc Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability probe panicked: %v", r)
		}
	}()

	desc = Descriptor{
		Name:        name,
		Domain:      domain,
		Version:     info.Version,
		Description: info.Description,
		Author:      info.Author,
		Tags:        slices.Clone(info.Tags),
	}
	if b, ok := p.(BatchSupporter); ok {
		desc.SupportsBatch = b.SupportsBatch()
	}
	if d, ok := p.(DependencyDeclarer); ok {
		desc.Dependencies = slices.Clone(d.Dependencies())
	}
	if c, ok := p.(CacheStrategist); ok {
		desc.CacheStrategy = c.CacheStrategy()
	}
	return desc, nil
}

func implKind(p Plugin) string {
	return fmt.Sprintf("%T", p)
}

// Get returns the plugin registered under (domain, name).
func (r *Registry) Get(domain types.Domain, name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[domain][name]
	if !ok {
		return nil, false
	}
	return e.impl, true
}

// Descriptor returns the registration snapshot for (domain, name).
func (r *Registry) Descriptor(domain types.Domain, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[domain][name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Metadata returns the cached Info for an implementation type, if any
// registration still references it.
func (r *Registry) Metadata(impl Plugin) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.metadata[implKind(impl)]
	return info, ok
}

// List returns the plugin names registered for domain, sorted.
func (r *Registry) List(domain types.Domain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins[domain]))
	for name := range r.plugins[domain] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Domains returns the domains that have at least one plugin, sorted.
func (r *Registry) Domains() []types.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]types.Domain, 0, len(r.plugins))
	for d, byName := range r.plugins {
		if len(byName) > 0 {
			domains = append(domains, d)
		}
	}
	slices.Sort(domains)
	return domains
}

// Unregister removes (domain, name). Cached metadata for the implementation is
// purged unless another registration still uses the same implementation.
func (r *Registry) Unregister(domain types.Domain, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.plugins[domain][name]
	if !ok {
		return false
	}
	delete(r.plugins[domain], name)
	if len(r.plugins[domain]) == 0 {
		delete(r.plugins, domain)
	}
	r.purgeLocked(e.kind)
	return true
}

// purgeLocked drops cached metadata for kind when nothing references it.
func (r *Registry) purgeLocked(kind string) {
	for _, byName := range r.plugins {
		for _, e := range byName {
			if e.kind == kind {
				return
			}
		}
	}
	delete(r.metadata, kind)
}

// ProvideCapability marks an external capability as available to plugins
// that declare it as a dependency.
func (r *Registry) ProvideCapability(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = true
}

// SetDefaults sets the plugins used for (domain, scope) when a request does not
// name any.
func (r *Registry) SetDefaults(domain types.Domain, scope types.Scope, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[scopeKey{domain, scope}] = slices.Clone(names)
}

// Defaults returns the default plugin set for (domain, scope). Without an
// explicit default every registered plugin of the domain is used.
func (r *Registry) Defaults(domain types.Domain, scope types.Scope) []string {
	r.mu.RLock()
	names, ok := r.defaults[scopeKey{domain, scope}]
	r.mu.RUnlock()
	if ok {
		return slices.Clone(names)
	}
	return r.List(domain)
}

// ValidateAll re-checks every declared dependency. The returned map has one
// entry per plugin keyed "domain/name", nil for plugins that passed. The error
// is non-nil if any plugin failed.
func (r *Registry) ValidateAll() (map[string]error, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error)
	failed := 0
	for domain, byName := range r.plugins {
		for name, e := range byName {
			key := fmt.Sprintf("%s/%s", domain, name)
			err := r.checkDependenciesLocked(domain, e.desc.Dependencies)
			results[key] = err
			if err != nil {
				failed++
			}
		}
	}

	if failed > 0 {
		return results, errors.New(errors.ErrDependencyMissing, errors.ErrorInvalid, "Registry", "ValidateAll",
			fmt.Sprintf("%d of %d plugins failed validation", failed, len(results)))
	}
	return results, nil
}

func (r *Registry) checkDependenciesLocked(domain types.Domain, deps []Dependency) error {
	var missing []string
	for _, dep := range deps {
		switch dep.Kind {
		case DependsOnPlugin:
			target := dep.Domain
			if target == "" {
				target = domain
			}
			if _, ok := r.plugins[target][dep.Name]; !ok {
				missing = append(missing, dep.String())
			}
		case DependsOnCapability:
			if !r.capabilities[dep.Name] {
				missing = append(missing, dep.String())
			}
		default:
			missing = append(missing, fmt.Sprintf("unknown dependency kind %q", dep.Kind))
		}
	}
	if len(missing) > 0 {
		return errors.New(errors.ErrDependencyMissing, errors.ErrorInvalid, "Registry", "ValidateAll",
			fmt.Sprintf("unresolved %v", missing))
	}
	return nil
}
