// ABOUTME: Authoritative in-memory table of agent registrations and lifecycle state.
// ABOUTME: Validates transitions, resolves duplicate registrations, persists on mutation.

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrNotRegistered indicates the agent ID is unknown to the registry.
var ErrNotRegistered = errors.New("agent not registered")

// ErrInstanceMismatch indicates the caller's instance ID does not match the
// current registration (the caller is stale).
var ErrInstanceMismatch = errors.New("instance id mismatch")

// ErrInvalidTransition indicates the requested state change is not in the
// transition table.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrStaleInstance indicates a newer instance of the same agent is already
// registered; the caller's process should exit or retry later.
var ErrStaleInstance = errors.New("a newer instance is already registered")

// Registration is the record the registry keeps for one agent instance.
type Registration struct {
	AgentID       string            `json:"agent_id"`
	InstanceID    string            `json:"instance_id"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	State         State             `json:"state"`
	StartTime     time.Time         `json:"start_time"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RegisteredAt  time.Time         `json:"registered_at"`
	Version       string            `json:"version,omitempty"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// clone returns a deep copy so callers never share mutable state with the
// registry's internal map.
func (r *Registration) clone() *Registration {
	cp := *r
	if r.Capabilities != nil {
		cp.Capabilities = append([]string(nil), r.Capabilities...)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// HasCapability reports whether the registration lists the given capability.
func (r *Registration) HasCapability(cap string) bool {
	for _, c := range r.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Registry owns the authoritative agent table. All mutations go through its
// methods, which hold the mutex for both the in-memory update and the
// persisted snapshot so a reader never observes a partially written record.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Registration
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Registry backed by the given store, loading any previously
// persisted registrations.
func New(store Store, logger *slog.Logger) (*Registry, error) {
	agents, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}
	if agents == nil {
		agents = make(map[string]*Registration)
	}

	r := &Registry{
		agents: agents,
		store:  store,
		logger: logger,
		now:    time.Now,
	}

	if len(agents) > 0 {
		logger.Info("registry loaded", "agents", len(agents))
	}
	return r, nil
}

// Register inserts or refreshes a registration.
//
// A new agent ID is inserted in STARTING state. Re-registering the same
// (agent_id, instance_id) pair is an idempotent heartbeat refresh. A different
// instance ID supersedes the existing record only if its start time is not
// older; otherwise the caller is stale and ErrStaleInstance is returned.
func (r *Registry) Register(reg Registration) error {
	if reg.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if reg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	existing, ok := r.agents[reg.AgentID]
	if ok && existing.InstanceID == reg.InstanceID {
		// Refresh: same process re-announcing itself, possibly on a new socket.
		existing.LastHeartbeat = now
		if reg.Host != "" && reg.Port != 0 {
			existing.Host = reg.Host
			existing.Port = reg.Port
		}
		if reg.Version != "" {
			existing.Version = reg.Version
		}
		if reg.Capabilities != nil {
			existing.Capabilities = append([]string(nil), reg.Capabilities...)
		}
		mergeMetadata(existing, reg.Metadata)
		r.persistLocked()
		r.logger.Debug("registration refreshed",
			"agent_id", reg.AgentID,
			"instance_id", reg.InstanceID,
		)
		return nil
	}

	if ok && existing.StartTime.After(reg.StartTime) {
		return fmt.Errorf("%w: agent %s instance %s (started %s)",
			ErrStaleInstance, reg.AgentID, existing.InstanceID,
			existing.StartTime.Format(time.RFC3339))
	}

	rec := reg.clone()
	rec.State = StateStarting
	rec.LastHeartbeat = now
	rec.RegisteredAt = now
	r.agents[reg.AgentID] = rec
	r.persistLocked()

	if ok {
		r.logger.Info("registration superseded",
			"agent_id", reg.AgentID,
			"old_instance", existing.InstanceID,
			"new_instance", reg.InstanceID,
		)
	} else {
		r.logger.Info("agent registered",
			"agent_id", reg.AgentID,
			"instance_id", reg.InstanceID,
			"endpoint", net.JoinHostPort(reg.Host, strconv.Itoa(reg.Port)),
			"capabilities", reg.Capabilities,
			"total_agents", len(r.agents),
		)
	}
	return nil
}

// Deregister removes the registration for agentID if instanceID matches the
// current record.
func (r *Registry) Deregister(agentID, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	if existing.InstanceID != instanceID {
		return fmt.Errorf("%w: agent %s current instance is %s",
			ErrInstanceMismatch, agentID, existing.InstanceID)
	}

	delete(r.agents, agentID)
	r.persistLocked()
	r.logger.Info("agent deregistered",
		"agent_id", agentID,
		"instance_id", instanceID,
		"total_agents", len(r.agents),
	)
	return nil
}

// UpdateState applies a lifecycle transition for the given agent instance.
// It fails with ErrNotRegistered, ErrInstanceMismatch, or ErrInvalidTransition;
// on failure the record is unchanged. On success the heartbeat is refreshed and
// metadata is merged into the record.
func (r *Registry) UpdateState(agentID, instanceID string, target State, metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	if rec.InstanceID != instanceID {
		return fmt.Errorf("%w: agent %s current instance is %s",
			ErrInstanceMismatch, agentID, rec.InstanceID)
	}
	if err := checkTransition(rec.State, target); err != nil {
		return err
	}

	old := rec.State
	rec.State = target
	rec.LastHeartbeat = r.now()
	mergeMetadata(rec, metadata)
	r.persistLocked()

	r.logger.Info("agent state changed",
		"agent_id", agentID,
		"old_state", old,
		"new_state", target,
	)
	return nil
}

// Heartbeat refreshes the agent's last-heartbeat timestamp. Any observed
// traffic counts as liveness, so the instance ID is not checked.
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	rec.LastHeartbeat = r.now()
	r.persistLocked()
	return nil
}

// GetInfo returns a snapshot of the registration for agentID.
func (r *Registry) GetInfo(agentID string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	return rec.clone(), nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	State      State
	Capability string
}

// List returns snapshots of all registrations matching the filter, sorted by
// agent ID for stable output.
func (r *Registry) List(f Filter) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Registration, 0, len(r.agents))
	for _, rec := range r.agents {
		if f.State != "" && rec.State != f.State {
			continue
		}
		if f.Capability != "" && !rec.HasCapability(f.Capability) {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Endpoint returns the agent's dialable address. Implements the dispatcher's
// endpoint source.
func (r *Registry) Endpoint(agentID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	if rec.Host == "" || rec.Port == 0 {
		return "", fmt.Errorf("agent %s has no known endpoint", agentID)
	}
	return net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port)), nil
}

// ObserveTraffic records liveness from observed dispatch traffic. Implements
// the dispatcher's endpoint source; unknown agents are ignored.
func (r *Registry) ObserveTraffic(agentID string) {
	_ = r.Heartbeat(agentID)
}

// Stats summarizes the registry contents.
type Stats struct {
	TotalAgents int           `json:"total_agents"`
	ByState     map[State]int `json:"by_state"`
}

// Statistics returns counts of registered agents grouped by lifecycle state.
func (r *Registry) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalAgents: len(r.agents),
		ByState:     make(map[State]int),
	}
	for _, rec := range r.agents {
		s.ByState[rec.State]++
	}
	return s
}

// persistLocked writes the full table through the store. The caller must hold
// the write lock. Persistence failures are logged and otherwise ignored: the
// in-memory state stays authoritative for the running process.
func (r *Registry) persistLocked() {
	if err := r.store.Save(r.agents); err != nil {
		r.logger.Error("failed to persist registry", "error", err)
	}
}

func mergeMetadata(rec *Registration, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
}
