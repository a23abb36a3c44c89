// Package shipprefs ranks the hulls an entity flies and loses.
package shipprefs

import (
	"context"
	"sort"
	"time"

	"github.com/guarzo/eveDMV-sub012/plugin"
)

// Name is the registry name of this analyzer.
const Name = "ship-preferences"

// fragmentTTL is how long a computed fragment is reused across reports.
// Hull preferences move slowly compared to combat numbers.
const fragmentTTL = 30 * time.Minute

// ShipUsage is one hull's share of the subject's activity.
type ShipUsage struct {
	Ship     string  `json:"ship"`
	Uses     int     `json:"uses"`
	Losses   int     `json:"losses"`
	Share    float64 `json:"share"`
	LossRate float64 `json:"loss_rate"`
}

// Preferences is the fragment produced by this analyzer.
type Preferences struct {
	EntityIDs     []int64     `json:"entity_ids"`
	FavoriteShip  string      `json:"favorite_ship,omitempty"`
	TopShips      []ShipUsage `json:"top_ships"`
	DistinctShips int         `json:"distinct_ships"`
	Diversity     float64     `json:"diversity"`
}

// Analyzer implements plugin.Plugin.
type Analyzer struct {
	limit int
}

// New returns the ship preference analyzer reporting the top limit hulls.
func New(limit int) *Analyzer {
	if limit <= 0 {
		limit = 5
	}
	return &Analyzer{limit: limit}
}

// Info implements plugin.Plugin.
func (a *Analyzer) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Version:     "1.1.0",
		Description: "Most used hulls, per-hull loss rate and fleet diversity",
		Tags:        []string{"ships", "fitting"},
	}
}

// SupportsBatch implements plugin.BatchSupporter.
func (a *Analyzer) SupportsBatch() bool { return true }

// CacheStrategy implements plugin.CacheStrategist.
func (a *Analyzer) CacheStrategy() plugin.CacheStrategy {
	return plugin.CacheStrategy{TTL: fragmentTTL, KeyPrefix: "shipprefs"}
}

// Analyze implements plugin.Plugin. Usage across every requested entity is
// merged, so a fleet request yields the fleet's doctrine.
func (a *Analyzer) Analyze(ctx context.Context, req plugin.Request) (any, error) {
	uses := map[string]int{}
	losses := map[string]int{}
	for _, id := range req.EntityIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats, err := plugin.EntityData(req, id)
		if err != nil {
			return nil, err
		}
		merge(uses, stats.ShipUsage)
		merge(losses, stats.ShipLosses)
	}
	return a.rank(req.EntityIDs, uses, losses), nil
}

func merge(into, from map[string]int) {
	for k, v := range from {
		into[k] += v
	}
}

func (a *Analyzer) rank(ids []int64, uses, losses map[string]int) *Preferences {
	total := 0
	ships := make([]ShipUsage, 0, len(uses))
	for ship, n := range uses {
		if n <= 0 {
			continue
		}
		total += n
		ships = append(ships, ShipUsage{Ship: ship, Uses: n, Losses: losses[ship]})
	}
	sort.Slice(ships, func(i, j int) bool {
		if ships[i].Uses != ships[j].Uses {
			return ships[i].Uses > ships[j].Uses
		}
		return ships[i].Ship < ships[j].Ship
	})

	for i := range ships {
		ships[i].Share = float64(ships[i].Uses) / float64(total)
		ships[i].LossRate = float64(ships[i].Losses) / float64(ships[i].Uses)
	}

	prefs := &Preferences{
		EntityIDs:     append([]int64(nil), ids...),
		DistinctShips: len(ships),
		Diversity:     diversity(ships),
		TopShips:      ships,
	}
	if len(ships) > a.limit {
		prefs.TopShips = ships[:a.limit]
	}
	if len(ships) > 0 {
		prefs.FavoriteShip = ships[0].Ship
	}
	return prefs
}

// diversity is 1 minus the Herfindahl index of hull shares: 0 for a
// single-hull pilot, approaching 1 for an even spread.
func diversity(ships []ShipUsage) float64 {
	if len(ships) == 0 {
		return 0
	}
	hhi := 0.0
	for _, s := range ships {
		hhi += s.Share * s.Share
	}
	return 1 - hhi
}

// Compile-time check that the analyzer stays cacheable.
var _ plugin.CacheStrategist = (*Analyzer)(nil)
