package plugin

import (
	"context"
	"time"

	"github.com/guarzo/eveDMV-sub012/types"
)

// stubPlugin is a configurable Plugin used across the package tests.
type stubPlugin struct {
	info    Info
	analyze func(ctx context.Context, req Request) (any, error)
}

func (s *stubPlugin) Info() Info { return s.info }

func (s *stubPlugin) Analyze(ctx context.Context, req Request) (any, error) {
	if s.analyze == nil {
		return map[string]int{"entities": len(req.EntityIDs)}, nil
	}
	return s.analyze(ctx, req)
}

func newStub(name string) *stubPlugin {
	return &stubPlugin{info: Info{Name: name, Version: "1.0.0", Description: name + " stub"}}
}

// richPlugin implements every optional capability.
type richPlugin struct {
	stubPlugin
	deps []Dependency
}

func (r *richPlugin) SupportsBatch() bool { return true }

func (r *richPlugin) Dependencies() []Dependency { return r.deps }

func (r *richPlugin) CacheStrategy() CacheStrategy {
	return CacheStrategy{TTL: time.Minute, KeyPrefix: "rich"}
}

type panickyInfo struct{}

func (panickyInfo) Info() Info { panic("no metadata today") }

func (panickyInfo) Analyze(context.Context, Request) (any, error) { return nil, nil }

// notAPlugin has Analyze but no Info.
type notAPlugin struct{}

func (notAPlugin) Analyze(context.Context, Request) (any, error) { return nil, nil }

func baseData(stats ...types.EntityStats) *types.BaseData {
	data := &types.BaseData{
		Domain:   types.DomainCharacter,
		Entities: make(map[int64]types.EntityStats),
	}
	for _, s := range stats {
		data.Entities[s.EntityID] = s
	}
	return data
}
