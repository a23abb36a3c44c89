// Package behavior infers activity patterns (peak hours, timezone, roaming)
// from an entity's activity distribution.
package behavior

import (
	"context"
	"sort"

	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Name is the registry name of this analyzer.
const Name = "behavioral-patterns"

// Patterns is the fragment produced by this analyzer.
type Patterns struct {
	EntityID        int64          `json:"entity_id"`
	PeakHours       []int          `json:"peak_hours"`
	Timezone        string         `json:"timezone"`
	ActiveWeekdays  []string       `json:"active_weekdays"`
	WeekendShare    float64        `json:"weekend_share"`
	SystemsVisited  int            `json:"systems_visited"`
	HomeSystem      string         `json:"home_system,omitempty"`
	HomeShare       float64        `json:"home_share"`
	Style           string         `json:"style"`
	HourlyActivity  map[int]int    `json:"hourly_activity"`
	WeekdayActivity map[string]int `json:"weekday_activity"`
}

// Analyzer implements plugin.Plugin.
type Analyzer struct {
	peakHours int
}

// New returns the behavioral pattern analyzer.
func New() *Analyzer { return &Analyzer{peakHours: 3} }

// Info implements plugin.Plugin.
func (a *Analyzer) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Version:     "1.0.1",
		Description: "Peak activity hours, timezone and roaming behavior",
		Tags:        []string{"behavior"},
	}
}

// Analyze implements plugin.Plugin for the first requested entity.
func (a *Analyzer) Analyze(_ context.Context, req plugin.Request) (any, error) {
	stats, err := plugin.PrimaryEntity(req)
	if err != nil {
		return nil, err
	}
	return a.compute(stats), nil
}

func (a *Analyzer) compute(s types.EntityStats) *Patterns {
	p := &Patterns{
		EntityID:        s.EntityID,
		PeakHours:       topHours(s.ActivityByHour, a.peakHours),
		ActiveWeekdays:  activeWeekdays(s.ActivityByWeekday),
		SystemsVisited:  len(s.SystemActivity),
		HourlyActivity:  s.ActivityByHour,
		WeekdayActivity: s.ActivityByWeekday,
	}
	p.Timezone = timezone(p.PeakHours)
	p.WeekendShare = weekendShare(s.ActivityByWeekday)
	p.HomeSystem, p.HomeShare = homeSystem(s.SystemActivity)
	p.Style = style(p.SystemsVisited, p.HomeShare)
	return p
}

// topHours returns up to n hours ordered by activity, ties broken by hour.
func topHours(byHour map[int]int, n int) []int {
	hours := make([]int, 0, len(byHour))
	for h, count := range byHour {
		if count > 0 {
			hours = append(hours, h)
		}
	}
	sort.Slice(hours, func(i, j int) bool {
		if byHour[hours[i]] != byHour[hours[j]] {
			return byHour[hours[i]] > byHour[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// timezone buckets the busiest EVE (UTC) hour into the usual prime-time bands.
func timezone(peak []int) string {
	if len(peak) == 0 {
		return "unknown"
	}
	switch h := peak[0]; {
	case h >= 16 && h < 23:
		return "EU"
	case h >= 23 || h < 5:
		return "US"
	case h >= 8 && h < 16:
		return "AU"
	default:
		return "RU"
	}
}

var weekdayOrder = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func activeWeekdays(byDay map[string]int) []string {
	var days []string
	for _, d := range weekdayOrder {
		if byDay[d] > 0 {
			days = append(days, d)
		}
	}
	return days
}

func weekendShare(byDay map[string]int) float64 {
	total := 0
	for _, c := range byDay {
		total += c
	}
	if total == 0 {
		return 0
	}
	return float64(byDay["saturday"]+byDay["sunday"]) / float64(total)
}

func homeSystem(bySystem map[string]int) (string, float64) {
	var home string
	best, total := 0, 0
	for name, c := range bySystem {
		total += c
		if c > best || (c == best && name < home) {
			home, best = name, c
		}
	}
	if total == 0 {
		return "", 0
	}
	return home, float64(best) / float64(total)
}

func style(systems int, homeShare float64) string {
	switch {
	case systems == 0:
		return "unknown"
	case homeShare >= 0.6:
		return "home_defense"
	case systems >= 15:
		return "roamer"
	default:
		return "regional"
	}
}
