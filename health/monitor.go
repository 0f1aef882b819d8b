package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProbeFn checks one dependency. It must honor the context deadline; a
// panic-free error return becomes an unhealthy status.
type ProbeFn func(ctx context.Context) Status

// Monitor tracks component health. Components either push updates or
// register a probe that Snapshot polls on demand.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]ProbeFn

	probeTimeout time.Duration
}

// NewMonitor creates a health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses:     make(map[string]Status),
		probes:       make(map[string]ProbeFn),
		probeTimeout: 2 * time.Second,
	}
}

// Update stores a pushed status for a component.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// RegisterProbe attaches an on-demand check for a component.
func (m *Monitor) RegisterProbe(name string, probe ProbeFn) {
	m.mu.Lock()
	m.probes[name] = probe
	m.mu.Unlock()
}

// Remove drops a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	delete(m.probes, name)
	m.mu.Unlock()
}

// Get returns the last pushed status for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

// Components lists monitored component names, sorted.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.probes))
	seen := make(map[string]struct{})
	for name := range m.statuses {
		names = append(names, name)
		seen[name] = struct{}{}
	}
	for name := range m.probes {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot runs every probe with a bounded timeout, merges pushed statuses,
// and aggregates. It always returns, annotating unreachable dependencies
// rather than erroring.
func (m *Monitor) Snapshot(ctx context.Context, systemName string) Status {
	m.mu.RLock()
	probes := make(map[string]ProbeFn, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	pushed := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		pushed[name] = status
	}
	m.mu.RUnlock()

	results := make(map[string]Status, len(probes)+len(pushed))
	for name, status := range pushed {
		results[name] = status
	}
	for name, probe := range probes {
		results[name] = m.runProbe(ctx, name, probe)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	subStatuses := make([]Status, 0, len(results))
	for _, name := range names {
		subStatuses = append(subStatuses, results[name])
	}
	return Aggregate(systemName, subStatuses)
}

func (m *Monitor) runProbe(ctx context.Context, name string, probe ProbeFn) Status {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Unhealthy(name, fmt.Sprintf("probe panicked: %v", r))
			}
		}()
		done <- probe(probeCtx)
	}()

	select {
	case status := <-done:
		status.Component = name
		if status.Timestamp.IsZero() {
			status.Timestamp = time.Now()
		}
		return status
	case <-probeCtx.Done():
		return Degraded(name, "health probe timed out")
	}
}
