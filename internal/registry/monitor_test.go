// ABOUTME: Tests for the heartbeat-timeout health sweep
// ABOUTME: Covers stale detection, state filtering, and sweep idempotence

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_FailsStaleReadyAgents(t *testing.T) {
	r := newTestRegistry(t)
	m := NewMonitor(r, 90*time.Second, time.Second, testLogger())

	require.NoError(t, r.Register(testRegistration("apollo", "inst-1")))
	require.NoError(t, r.UpdateState("apollo", "inst-1", StateReady, nil))

	// Within the timeout: nothing happens.
	failed := m.Sweep(time.Now().Add(30 * time.Second))
	assert.Empty(t, failed)

	failed = m.Sweep(time.Now().Add(2 * time.Minute))
	require.Equal(t, []string{"apollo"}, failed)

	rec, err := r.GetInfo("apollo")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "missed heartbeats", rec.Metadata["reason"])
	assert.NotEmpty(t, rec.Metadata["last_seen"])
}

func TestSweep_FailsStaleDegradedAgents(t *testing.T) {
	r := newTestRegistry(t)
	m := NewMonitor(r, 90*time.Second, time.Second, testLogger())

	require.NoError(t, r.Register(testRegistration("apollo", "inst-1")))
	require.NoError(t, r.UpdateState("apollo", "inst-1", StateReady, nil))
	require.NoError(t, r.UpdateState("apollo", "inst-1", StateDegraded, nil))

	failed := m.Sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, []string{"apollo"}, failed)
}

func TestSweep_IgnoresNonRunningStates(t *testing.T) {
	r := newTestRegistry(t)
	m := NewMonitor(r, 90*time.Second, time.Second, testLogger())

	// STARTING: the agent may still be loading; not subject to the sweep.
	require.NoError(t, r.Register(testRegistration("starting", "inst-1")))

	require.NoError(t, r.Register(testRegistration("stopping", "inst-2")))
	require.NoError(t, r.UpdateState("stopping", "inst-2", StateReady, nil))
	require.NoError(t, r.UpdateState("stopping", "inst-2", StateStopping, nil))

	failed := m.Sweep(time.Now().Add(time.Hour))
	assert.Empty(t, failed)
}

func TestSweep_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	m := NewMonitor(r, 90*time.Second, time.Second, testLogger())

	require.NoError(t, r.Register(testRegistration("apollo", "inst-1")))
	require.NoError(t, r.UpdateState("apollo", "inst-1", StateReady, nil))

	deadline := time.Now().Add(2 * time.Minute)
	first := m.Sweep(deadline)
	require.Equal(t, []string{"apollo"}, first)

	// Already FAILED: a second pass must report nothing new.
	second := m.Sweep(deadline)
	assert.Empty(t, second)
}

func TestSweep_HeartbeatKeepsAgentAlive(t *testing.T) {
	r := newTestRegistry(t)
	m := NewMonitor(r, 90*time.Second, time.Second, testLogger())

	require.NoError(t, r.Register(testRegistration("apollo", "inst-1")))
	require.NoError(t, r.UpdateState("apollo", "inst-1", StateReady, nil))

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.NoError(t, r.Heartbeat("apollo"))

	failed := m.Sweep(time.Now().Add(2 * time.Minute))
	assert.Empty(t, failed)
}
