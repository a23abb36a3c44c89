package types

import "time"

// Report is the aggregated output of one pipeline execution, keyed by plugin name.
type Report struct {
	Domain    Domain         `json:"domain"`
	EntityID  int64          `json:"entity_id,omitempty"`
	EntityIDs []int64        `json:"entity_ids"`
	Scope     Scope          `json:"scope"`
	Analysis  map[string]any `json:"analysis"`
	Metadata  ReportMetadata `json:"metadata"`
}

// ReportMetadata describes how a report was produced.
type ReportMetadata struct {
	RequestID         string            `json:"request_id"`
	PluginsSuccessful []string          `json:"plugins_successful"`
	PluginsFailed     []string          `json:"plugins_failed"`
	Failures          map[string]string `json:"failures,omitempty"`
	LookbackDays      int               `json:"lookback_days"`
	CacheKey          string            `json:"cache_key"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Duration          time.Duration     `json:"duration"`
}

// Succeeded reports whether the named plugin contributed to the report.
func (r *Report) Succeeded(plugin string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Analysis[plugin]
	return ok
}
