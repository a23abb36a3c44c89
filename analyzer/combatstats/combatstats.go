// Package combatstats computes kill/loss performance for one or more entities.
package combatstats

import (
	"context"
	"math"

	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Name is the registry name of this analyzer.
const Name = "combat-stats"

// BasicStats are the headline combat numbers.
type BasicStats struct {
	TotalKills     int     `json:"total_kills"`
	TotalLosses    int     `json:"total_losses"`
	SoloKills      int     `json:"solo_kills"`
	GangKills      int     `json:"gang_kills"`
	KillDeathRatio float64 `json:"kill_death_ratio"`
	SoloRatio      float64 `json:"solo_ratio"`
	ISKDestroyed   float64 `json:"isk_destroyed"`
	ISKLost        float64 `json:"isk_lost"`
	ISKEfficiency  float64 `json:"isk_efficiency"`
}

// Performance summarizes how dangerous and how active the subject is.
type Performance struct {
	DangerRating  int     `json:"danger_rating"`
	KillsPerDay   float64 `json:"kills_per_day"`
	ActivityLevel string  `json:"activity_level"`
}

// CombatStats is the fragment produced by this analyzer.
type CombatStats struct {
	EntityIDs   []int64               `json:"entity_ids"`
	BasicStats  BasicStats            `json:"basic_stats"`
	Performance Performance           `json:"performance"`
	PerEntity   map[int64]*BasicStats `json:"per_entity,omitempty"`
}

// Analyzer implements plugin.Plugin.
type Analyzer struct{}

// New returns the combat statistics analyzer.
func New() *Analyzer { return &Analyzer{} }

// Info implements plugin.Plugin.
func (a *Analyzer) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Version:     "1.2.0",
		Description: "Kill/death ratio, ISK efficiency and danger rating",
		Tags:        []string{"combat", "core"},
	}
}

// SupportsBatch implements plugin.BatchSupporter.
func (a *Analyzer) SupportsBatch() bool { return true }

// Analyze implements plugin.Plugin. With several entity ids the basic stats are
// summed and each entity is also reported separately.
func (a *Analyzer) Analyze(ctx context.Context, req plugin.Request) (any, error) {
	if len(req.EntityIDs) == 1 {
		stats, err := plugin.EntityData(req, req.EntityIDs[0])
		if err != nil {
			return nil, err
		}
		return Compute(stats, req.Data.LookbackDays), nil
	}

	total := types.EmptyStats(0)
	perEntity := make(map[int64]*BasicStats, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats, err := plugin.EntityData(req, id)
		if err != nil {
			return nil, err
		}
		basic := Basic(stats)
		perEntity[id] = &basic
		accumulate(&total, stats)
	}

	result := Compute(total, req.Data.LookbackDays)
	result.EntityIDs = append([]int64(nil), req.EntityIDs...)
	result.PerEntity = perEntity
	return result, nil
}

func accumulate(into *types.EntityStats, s types.EntityStats) {
	into.TotalKills += s.TotalKills
	into.TotalLosses += s.TotalLosses
	into.SoloKills += s.SoloKills
	into.GangKills += s.GangKills
	into.ISKDestroyed += s.ISKDestroyed
	into.ISKLost += s.ISKLost
}

// Compute derives the combat fragment for one stats bag.
func Compute(s types.EntityStats, lookbackDays int) *CombatStats {
	basic := Basic(s)

	var perDay float64
	if lookbackDays > 0 {
		perDay = round2(float64(s.TotalKills) / float64(lookbackDays))
	}

	return &CombatStats{
		EntityIDs:  []int64{s.EntityID},
		BasicStats: basic,
		Performance: Performance{
			DangerRating:  dangerRating(basic),
			KillsPerDay:   perDay,
			ActivityLevel: activityLevel(perDay),
		},
	}
}

// Basic computes the headline numbers. A subject with no losses has a
// kill/death ratio equal to its kill count.
func Basic(s types.EntityStats) BasicStats {
	b := BasicStats{
		TotalKills:   s.TotalKills,
		TotalLosses:  s.TotalLosses,
		SoloKills:    s.SoloKills,
		GangKills:    s.GangKills,
		ISKDestroyed: s.ISKDestroyed,
		ISKLost:      s.ISKLost,
	}

	if s.TotalLosses > 0 {
		b.KillDeathRatio = round2(float64(s.TotalKills) / float64(s.TotalLosses))
	} else {
		b.KillDeathRatio = float64(s.TotalKills)
	}
	if s.TotalKills > 0 {
		b.SoloRatio = round2(float64(s.SoloKills) / float64(s.TotalKills))
	}
	if iskTotal := s.ISKDestroyed + s.ISKLost; iskTotal > 0 {
		b.ISKEfficiency = round2(s.ISKDestroyed / iskTotal * 100)
	}
	return b
}

// dangerRating maps combat output to 1..5.
func dangerRating(b BasicStats) int {
	switch {
	case b.TotalKills == 0:
		return 1
	case b.KillDeathRatio >= 10 && b.TotalKills >= 100:
		return 5
	case b.KillDeathRatio >= 4 && b.TotalKills >= 25:
		return 4
	case b.KillDeathRatio >= 2:
		return 3
	default:
		return 2
	}
}

func activityLevel(killsPerDay float64) string {
	switch {
	case killsPerDay >= 5:
		return "very_high"
	case killsPerDay >= 1:
		return "high"
	case killsPerDay >= 0.2:
		return "moderate"
	case killsPerDay > 0:
		return "low"
	default:
		return "inactive"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
