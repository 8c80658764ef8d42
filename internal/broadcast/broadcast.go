// ABOUTME: Broadcast coordinator that fans one message out to many agents.
// ABOUTME: Collects responses incrementally and silently drops non-responders.

package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/internal/queue"
)

// Coordinator fans messages out across agent queues and gathers the replies.
type Coordinator struct {
	queues *queue.Queues
	logger *slog.Logger
}

func New(queues *queue.Queues, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		queues: queues,
		logger: logger.With("component", "broadcast"),
	}
}

// Send enqueues content for every agent in agentIDs and returns the handle
// map of agent ID to message ID. Delivery happens asynchronously via the
// dispatcher; the handles feed Collect.
func (c *Coordinator) Send(content string, agentIDs []string) map[string]string {
	handles := make(map[string]string, len(agentIDs))
	for _, agentID := range agentIDs {
		handles[agentID] = c.queues.Enqueue(agentID, content)
	}

	c.logger.Info("broadcast sent", "recipients", len(handles))
	return handles
}

// Collect streams results for a broadcast's handles as each agent finishes,
// up to timeout from now. The channel closes when every handle has resolved
// or the deadline passes; agents that never answer produce nothing. Callers
// that want the full map rather than a stream can use CollectAll.
func (c *Coordinator) Collect(ctx context.Context, handles map[string]string, timeout time.Duration) <-chan queue.Result {
	out := make(chan queue.Result, len(handles))

	ctx, cancel := context.WithTimeout(ctx, timeout)

	var wg sync.WaitGroup
	for agentID, messageID := range handles {
		e, err := c.queues.Get(messageID)
		if err != nil {
			c.logger.Warn("broadcast handle missing", "agent_id", agentID, "message_id", messageID)
			continue
		}
		wg.Add(1)
		go func(e *queue.Entry) {
			defer wg.Done()
			res, err := c.queues.Collect(ctx, e.MessageID)
			if err != nil {
				// Timed out: this agent is dropped from the result stream.
				return
			}
			out <- res
		}(e)
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()

	return out
}

// CollectAll gathers the broadcast's results into a map keyed by agent ID,
// waiting up to timeout. Non-responders are simply absent.
func (c *Coordinator) CollectAll(ctx context.Context, handles map[string]string, timeout time.Duration) map[string]queue.Result {
	results := make(map[string]queue.Result, len(handles))
	for res := range c.Collect(ctx, handles, timeout) {
		results[res.AgentID] = res
	}

	c.logger.Info("broadcast collected",
		"recipients", len(handles),
		"responses", len(results),
	)
	return results
}
