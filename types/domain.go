// Package types contains the shared data model of the intelligence pipeline:
// domains, scopes, per-entity fact bags and the aggregated report.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
)

// Domain is the category of intelligence subject.
type Domain string

// Known domains
const (
	DomainCharacter   Domain = "character"
	DomainCorporation Domain = "corporation"
	DomainFleet       Domain = "fleet"
	DomainThreat      Domain = "threat"
)

// Domains returns every known domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainCharacter, DomainCorporation, DomainFleet, DomainThreat}
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	switch d {
	case DomainCharacter, DomainCorporation, DomainFleet, DomainThreat:
		return true
	default:
		return false
	}
}

// ParseDomain normalizes and validates a domain name.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", errors.New(errors.ErrInvalidDomain, errors.ErrorInvalid, "types", "ParseDomain",
			fmt.Sprintf("%q", s))
	}
	return d, nil
}

// Scope selects analysis depth: it controls the lookback window and cache TTL.
type Scope string

// Known scopes
const (
	ScopeBasic    Scope = "basic"
	ScopeStandard Scope = "standard"
	ScopeFull     Scope = "full"
)

// DefaultScope is used when a request does not name one.
const DefaultScope = ScopeStandard

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeBasic, ScopeStandard, ScopeFull:
		return true
	default:
		return false
	}
}

// ParseScope validates a scope name; the empty string yields DefaultScope.
func ParseScope(s string) (Scope, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultScope, nil
	}
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !scope.Valid() {
		return "", errors.New(errors.ErrInvalidScope, errors.ErrorInvalid, "types", "ParseScope",
			fmt.Sprintf("%q", s))
	}
	return scope, nil
}

// LookbackDays is the size of the fact window gathered for the scope.
func (s Scope) LookbackDays() int {
	switch s {
	case ScopeBasic:
		return 30
	case ScopeFull:
		return 365
	default:
		return 90
	}
}

// CacheTTL is how long a report produced at this scope stays cached.
func (s Scope) CacheTTL() time.Duration {
	switch s {
	case ScopeBasic:
		return 5 * time.Minute
	case ScopeFull:
		return 30 * time.Minute
	default:
		return 10 * time.Minute
	}
}
