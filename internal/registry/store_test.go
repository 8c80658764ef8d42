// ABOUTME: Tests for registry persistence backends
// ABOUTME: Covers the JSON file round trip, missing files, and corrupt documents

package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)

	agents, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	agents := map[string]*Registration{
		"apollo": {
			AgentID:       "apollo",
			InstanceID:    "inst-1",
			Host:          "localhost",
			Port:          9000,
			State:         StateReady,
			StartTime:     now,
			LastHeartbeat: now,
			Capabilities:  []string{"chat"},
			Metadata:      map[string]string{"region": "us-east"},
		},
	}
	require.NoError(t, store.Save(agents))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	rec := loaded["apollo"]
	require.NotNil(t, rec)
	assert.Equal(t, "inst-1", rec.InstanceID)
	assert.Equal(t, StateReady, rec.State)
	assert.Equal(t, 9000, rec.Port)
	assert.Equal(t, []string{"chat"}, rec.Capabilities)
	assert.Equal(t, "us-east", rec.Metadata["region"])
	assert.True(t, rec.LastHeartbeat.Equal(now))
}

func TestFileStore_SaveReplacesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(map[string]*Registration{
		"apollo": {AgentID: "apollo", InstanceID: "inst-1", State: StateReady},
		"hermes": {AgentID: "hermes", InstanceID: "inst-2", State: StateStarting},
	}))
	require.NoError(t, store.Save(map[string]*Registration{
		"apollo": {AgentID: "apollo", InstanceID: "inst-1", State: StateStopped},
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, StateStopped, loaded["apollo"].State)
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)

	require.NoError(t, store.Save(map[string]*Registration{
		"apollo": {AgentID: "apollo", InstanceID: "inst-1"},
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "registry.json", entries[0].Name())
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load()
	assert.Error(t, err)
}

func TestFileStore_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "registry.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(map[string]*Registration{}))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
