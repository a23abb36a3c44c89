package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check probes one dependency. It should return quickly and honor ctx.
type Check func(ctx context.Context) Status

// Monitor runs registered checks on demand.
type Monitor struct {
	name    string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a monitor for the named system. Each probe is bounded
// by timeout; zero means two seconds.
func NewMonitor(name string, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{
		name:    name,
		timeout: timeout,
		checks:  make(map[string]Check),
	}
}

// Register adds or replaces a named check.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Remove drops a check.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Names lists registered checks in sorted order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check and aggregates the results. A check that
// panics is reported unhealthy.
func (m *Monitor) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	names := m.Names()
	m.mu.RLock()
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = m.checks[name]
	}
	m.mu.RUnlock()

	subs := make([]Status, len(names))
	for i, name := range names {
		s := runCheck(ctx, name, checks[i])
		s.Component = name
		s.Message = sanitizeMessage(s.Message)
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		subs[i] = s
	}
	return Aggregate(m.name, subs)
}

func runCheck(ctx context.Context, name string, check Check) (s Status) {
	defer func() {
		if r := recover(); r != nil {
			s = NewUnhealthy(name, fmt.Sprintf("check panicked: %v", r))
		}
	}()
	return check(ctx)
}

// Handler serves the aggregate status as JSON: 200 when healthy or degraded,
// 503 when unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
