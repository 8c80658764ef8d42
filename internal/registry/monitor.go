// ABOUTME: Health monitor that fails agents whose heartbeats have gone stale.
// ABOUTME: Periodic sweep marks READY/DEGRADED agents FAILED past the timeout.

package registry

import (
	"context"
	"log/slog"
	"time"
)

// Monitor periodically sweeps the registry and force-fails agents that have
// missed their heartbeat budget.
type Monitor struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor that sweeps every interval and fails agents
// whose last heartbeat is older than timeout.
func NewMonitor(registry *Registry, timeout, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		timeout:  timeout,
		interval: interval,
		logger:   logger.With("component", "monitor"),
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started",
		"timeout", m.timeout,
		"interval", m.interval,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case now := <-ticker.C:
			failed := m.Sweep(now)
			for _, agentID := range failed {
				m.logger.Warn("agent failed health check", "agent_id", agentID)
			}
		}
	}
}

// Sweep marks every READY or DEGRADED agent whose last heartbeat is older than
// the timeout as FAILED, and returns the IDs that changed state in this pass.
// Agents in other states are left alone, so repeated sweeps are idempotent.
func (m *Monitor) Sweep(now time.Time) []string {
	return m.registry.failExpired(now, m.timeout)
}

// failExpired transitions stale READY/DEGRADED agents to FAILED, recording
// when each was last seen. Returns the newly failed agent IDs.
func (r *Registry) failExpired(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	for id, rec := range r.agents {
		if rec.State != StateReady && rec.State != StateDegraded {
			continue
		}
		if now.Sub(rec.LastHeartbeat) <= timeout {
			continue
		}
		rec.State = StateFailed
		mergeMetadata(rec, map[string]string{
			"reason":    "missed heartbeats",
			"last_seen": rec.LastHeartbeat.UTC().Format(time.RFC3339),
		})
		failed = append(failed, id)
	}

	if len(failed) > 0 {
		r.persistLocked()
	}
	return failed
}
