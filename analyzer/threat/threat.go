// Package threat scores how dangerous an entity is to engage or let into space.
package threat

import (
	"context"
	"math"
	"time"

	"github.com/guarzo/eveDMV-sub012/analyzer/combatstats"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Name is the registry name of this analyzer.
const Name = "threat-indicators"

// Levels
const (
	LevelMinimal  = "minimal"
	LevelLow      = "low"
	LevelModerate = "moderate"
	LevelHigh     = "high"
	LevelExtreme  = "extreme"
)

// Indicators is the fragment produced by this analyzer.
type Indicators struct {
	EntityID   int64              `json:"entity_id"`
	Score      float64            `json:"score"`
	Level      string             `json:"level"`
	Factors    map[string]float64 `json:"factors"`
	RecentlyOn bool               `json:"recently_active"`
}

// Analyzer implements plugin.Plugin.
type Analyzer struct {
	recentWindow time.Duration
}

// New returns the threat indicator analyzer.
func New() *Analyzer { return &Analyzer{recentWindow: 7 * 24 * time.Hour} }

// Info implements plugin.Plugin.
func (a *Analyzer) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Version:     "0.9.0",
		Description: "Weighted threat score from combat output, solo play and recency",
		Tags:        []string{"threat", "combat"},
	}
}

// Dependencies implements plugin.DependencyDeclarer. The score reuses the
// combat-stats derivation, so both must ship together.
func (a *Analyzer) Dependencies() []plugin.Dependency {
	return []plugin.Dependency{plugin.RequiresPlugin(combatstats.Name)}
}

// Analyze implements plugin.Plugin for the first requested entity.
func (a *Analyzer) Analyze(_ context.Context, req plugin.Request) (any, error) {
	stats, err := plugin.PrimaryEntity(req)
	if err != nil {
		return nil, err
	}

	ref := req.Data.GatheredAt
	if ref.IsZero() {
		ref = time.Now()
	}
	return a.score(stats, req.Data.LookbackDays, ref), nil
}

func (a *Analyzer) score(s types.EntityStats, lookbackDays int, ref time.Time) *Indicators {
	combat := combatstats.Compute(s, lookbackDays)
	basic := combat.BasicStats

	factors := map[string]float64{
		// log-scaled so the first few hundred kills matter most
		"volume":     math.Min(math.Log10(float64(basic.TotalKills)+1)/3, 1) * 35,
		"efficiency": math.Min(basic.KillDeathRatio/10, 1) * 25,
		"solo":       basic.SoloRatio * 15,
		"isk":        basic.ISKEfficiency / 100 * 10,
	}

	recent := !s.LastSeen.IsZero() && ref.Sub(s.LastSeen) <= a.recentWindow
	if recent {
		factors["recency"] = 15
	} else {
		factors["recency"] = 0
	}

	score := 0.0
	for _, v := range factors {
		score += v
	}
	score = math.Round(score*10) / 10

	return &Indicators{
		EntityID:   s.EntityID,
		Score:      score,
		Level:      level(score),
		Factors:    factors,
		RecentlyOn: recent,
	}
}

func level(score float64) string {
	switch {
	case score >= 80:
		return LevelExtreme
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelModerate
	case score >= 20:
		return LevelLow
	default:
		return LevelMinimal
	}
}
