package types

import (
	"maps"
	"sort"
	"time"
)

// EntityStats is the pre-aggregated fact bag for one entity over a lookback window.
// A gatherer returns EmptyStats for ids it has no facts about.
type EntityStats struct {
	EntityID          int64          `json:"entity_id"`
	TotalKills        int            `json:"total_kills"`
	TotalLosses       int            `json:"total_losses"`
	SoloKills         int            `json:"solo_kills"`
	GangKills         int            `json:"gang_kills"`
	ISKDestroyed      float64        `json:"isk_destroyed"`
	ISKLost           float64        `json:"isk_lost"`
	ActivityByHour    map[int]int    `json:"activity_by_hour"`
	ActivityByWeekday map[string]int `json:"activity_by_weekday"`
	ShipUsage         map[string]int `json:"ship_usage"`
	ShipLosses        map[string]int `json:"ship_losses"`
	SystemActivity    map[string]int `json:"system_activity"`
	FirstSeen         time.Time      `json:"first_seen,omitempty"`
	LastSeen          time.Time      `json:"last_seen,omitempty"`
}

// EmptyStats returns a zero fact bag with initialized maps.
func EmptyStats(id int64) EntityStats {
	return EntityStats{
		EntityID:          id,
		ActivityByHour:    map[int]int{},
		ActivityByWeekday: map[string]int{},
		ShipUsage:         map[string]int{},
		ShipLosses:        map[string]int{},
		SystemActivity:    map[string]int{},
	}
}

// IsEmpty reports whether the entity has no recorded engagements.
func (s EntityStats) IsEmpty() bool {
	return s.TotalKills == 0 && s.TotalLosses == 0
}

// Clone returns a deep copy.
func (s EntityStats) Clone() EntityStats {
	out := s
	out.ActivityByHour = cloneOrEmpty(s.ActivityByHour)
	out.ActivityByWeekday = cloneOrEmpty(s.ActivityByWeekday)
	out.ShipUsage = cloneOrEmpty(s.ShipUsage)
	out.ShipLosses = cloneOrEmpty(s.ShipLosses)
	out.SystemActivity = cloneOrEmpty(s.SystemActivity)
	return out
}

func cloneOrEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return maps.Clone(m)
}

// BaseData is the pre-fetched input of one pipeline execution. It is created per
// request and discarded after aggregation.
type BaseData struct {
	Domain       Domain                `json:"domain"`
	Entities     map[int64]EntityStats `json:"entities"`
	LookbackDays int                   `json:"lookback_days"`
	GatheredAt   time.Time             `json:"gathered_at"`
}

// Entity returns the stats for id.
func (b *BaseData) Entity(id int64) (EntityStats, bool) {
	if b == nil || b.Entities == nil {
		return EntityStats{}, false
	}
	s, ok := b.Entities[id]
	return s, ok
}

// IDs returns the entity ids in ascending order.
func (b *BaseData) IDs() []int64 {
	if b == nil {
		return nil
	}
	ids := make([]int64, 0, len(b.Entities))
	for id := range b.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a deep copy safe to hand to a concurrent reader.
func (b *BaseData) Snapshot() *BaseData {
	if b == nil {
		return nil
	}
	out := &BaseData{
		Domain:       b.Domain,
		LookbackDays: b.LookbackDays,
		GatheredAt:   b.GatheredAt,
		Entities:     make(map[int64]EntityStats, len(b.Entities)),
	}
	for id, s := range b.Entities {
		out.Entities[id] = s.Clone()
	}
	return out
}

// Subset returns a BaseData restricted to ids. Ids not present get EmptyStats.
func (b *BaseData) Subset(ids []int64) *BaseData {
	out := &BaseData{
		Entities: make(map[int64]EntityStats, len(ids)),
	}
	if b != nil {
		out.Domain = b.Domain
		out.LookbackDays = b.LookbackDays
		out.GatheredAt = b.GatheredAt
	}
	for _, id := range ids {
		if s, ok := b.Entity(id); ok {
			out.Entities[id] = s
		} else {
			out.Entities[id] = EmptyStats(id)
		}
	}
	return out
}
