// ABOUTME: Tests for broadcast fan-out and incremental collection
// ABOUTME: Covers per-agent handles, shared deadlines, and silent non-responder drop

package broadcast

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/internal/queue"
)

func newTestCoordinator() (*Coordinator, *queue.Queues) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	return New(q, logger), q
}

func TestSend_EnqueuesPerAgent(t *testing.T) {
	c, q := newTestCoordinator()

	handles := c.Send("status report please", []string{"apollo", "hermes", "athena"})
	require.Len(t, handles, 3)

	seen := make(map[string]bool)
	for agentID, messageID := range handles {
		e, err := q.Get(messageID)
		require.NoError(t, err)
		assert.Equal(t, agentID, e.AgentID)
		assert.Equal(t, "status report please", e.Content)
		assert.False(t, seen[messageID])
		seen[messageID] = true
	}
}

func TestCollectAll_SilentlyDropsNonResponders(t *testing.T) {
	c, q := newTestCoordinator()

	handles := c.Send("ping", []string{"apollo", "hermes", "silent"})
	require.NoError(t, q.Complete(handles["apollo"], "apollo here"))
	require.NoError(t, q.Complete(handles["hermes"], "hermes here"))
	// "silent" never answers.

	start := time.Now()
	results := c.CollectAll(context.Background(), handles, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Equal(t, "apollo here", results["apollo"].Response)
	assert.Equal(t, "hermes here", results["hermes"].Response)
	_, ok := results["silent"]
	assert.False(t, ok)

	// One shared deadline, not one per agent.
	assert.Less(t, elapsed, time.Second)
}

func TestCollect_StreamsIncrementally(t *testing.T) {
	c, q := newTestCoordinator()

	handles := c.Send("hello", []string{"fast", "slow"})
	require.NoError(t, q.Complete(handles["fast"], "quick"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.Complete(handles["slow"], "eventually")
	}()

	ch := c.Collect(context.Background(), handles, 2*time.Second)

	first, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "fast", first.AgentID)

	second, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "slow", second.AgentID)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestCollect_IncludesFailures(t *testing.T) {
	c, q := newTestCoordinator()

	handles := c.Send("hello", []string{"apollo", "broken"})
	require.NoError(t, q.Complete(handles["apollo"], "fine"))
	require.NoError(t, q.Fail(handles["broken"], context.DeadlineExceeded))

	results := c.CollectAll(context.Background(), handles, time.Second)
	require.Len(t, results, 2)
	assert.True(t, results["apollo"].Success)
	assert.False(t, results["broken"].Success)
	assert.Error(t, results["broken"].Err)
}

func TestCollect_TimedOutEntryRemainsCollectable(t *testing.T) {
	c, q := newTestCoordinator()

	handles := c.Send("hello", []string{"late"})
	results := c.CollectAll(context.Background(), handles, 20*time.Millisecond)
	assert.Empty(t, results)

	// The answer lands after the broadcast gave up; the entry still resolves.
	require.NoError(t, q.Complete(handles["late"], "sorry, traffic"))
	res, err := q.Collect(context.Background(), handles["late"])
	require.NoError(t, err)
	assert.Equal(t, "sorry, traffic", res.Response)
}

func TestCollect_EmptyHandles(t *testing.T) {
	c, _ := newTestCoordinator()

	results := c.CollectAll(context.Background(), map[string]string{}, time.Second)
	assert.Empty(t, results)
}
