// ABOUTME: Per-agent message queues with enqueue, collect, and eviction.
// ABOUTME: Each agent gets an isolated queue; entries are keyed by message ID.

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownMessage indicates no entry exists for the given message ID.
var ErrUnknownMessage = errors.New("unknown message id")

// ErrNotReady indicates the entry has not reached a terminal status yet.
var ErrNotReady = errors.New("response not ready")

// ErrEvicted marks entries that aged out of the queue before completing.
var ErrEvicted = errors.New("entry evicted before completion")

// Queues holds one message queue per agent. All operations are safe for
// concurrent use.
type Queues struct {
	mu      sync.RWMutex
	byAgent map[string][]*Entry
	byID    map[string]*Entry
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an empty set of queues.
func New(logger *slog.Logger) *Queues {
	return &Queues{
		byAgent: make(map[string][]*Entry),
		byID:    make(map[string]*Entry),
		logger:  logger.With("component", "queue"),
		now:     time.Now,
	}
}

// Enqueue adds a message to the agent's queue and returns its generated
// message ID.
func (q *Queues) Enqueue(agentID, content string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.New().String()
	e := newEntry(id, agentID, content, q.now())
	q.byAgent[agentID] = append(q.byAgent[agentID], e)
	q.byID[id] = e

	q.logger.Debug("message enqueued",
		"agent_id", agentID,
		"message_id", id,
	)
	return id
}

// Get returns the entry for a message ID.
func (q *Queues) Get(messageID string) (*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.byID[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	return e, nil
}

// Pending returns a snapshot of all entries still awaiting delivery, across
// every agent.
func (q *Queues) Pending() []*Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*Entry
	for _, entries := range q.byAgent {
		for _, e := range entries {
			if e.Status() == StatusPending {
				out = append(out, e)
			}
		}
	}
	return out
}

// Collect waits until the entry reaches a terminal status or the context is
// done. On deadline it returns ErrNotReady and leaves the entry untouched,
// so a later Collect can still retrieve the outcome. A caller's own
// cancellation is reported as the context error, not ErrNotReady.
func (q *Queues) Collect(ctx context.Context, messageID string) (Result, error) {
	e, err := q.Get(messageID)
	if err != nil {
		return Result{}, err
	}

	select {
	case <-e.Done():
		return e.result(), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: message %s is %s", ErrNotReady, messageID, e.Status())
		}
		return Result{}, ctx.Err()
	}
}

// CollectMany waits up to timeout for all the given message IDs, sharing one
// deadline across the set. It returns whatever completed in time, keyed by
// message ID so a batch aimed at a single agent keeps every outcome; entries
// that did not finish are simply absent.
func (q *Queues) CollectMany(ctx context.Context, messageIDs []string, timeout time.Duration) map[string]Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]Result, len(messageIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range messageIDs {
		e, err := q.Get(id)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			select {
			case <-e.Done():
				res := e.result()
				mu.Lock()
				results[res.MessageID] = res
				mu.Unlock()
			case <-ctx.Done():
			}
		}(e)
	}

	wg.Wait()
	return results
}

// MarkSent claims the entry for delivery. Exposed for the dispatcher.
func (q *Queues) MarkSent(messageID string) (bool, error) {
	e, err := q.Get(messageID)
	if err != nil {
		return false, err
	}
	return e.markSent(q.now()), nil
}

// Complete records a successful response for the entry.
func (q *Queues) Complete(messageID, response string) error {
	e, err := q.Get(messageID)
	if err != nil {
		return err
	}
	e.complete(response, q.now())
	return nil
}

// Fail records a delivery failure for the entry.
func (q *Queues) Fail(messageID string, cause error) error {
	e, err := q.Get(messageID)
	if err != nil {
		return err
	}
	e.fail(cause, q.now())
	return nil
}

// Evict drops entries older than maxAge regardless of status and returns how
// many were removed. Entries still pending or in flight are failed first so
// anyone blocked on them unblocks; this bounds memory for agents that get
// messages but never drain them.
func (q *Queues) Evict(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	cutoff := now.Add(-maxAge)
	removed := 0

	for agentID, entries := range q.byAgent {
		kept := entries[:0]
		for _, e := range entries {
			if e.CreatedAt.Before(cutoff) {
				e.fail(fmt.Errorf("%w: message %s for agent %s", ErrEvicted, e.MessageID, e.AgentID), now)
				delete(q.byID, e.MessageID)
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(q.byAgent, agentID)
		} else {
			q.byAgent[agentID] = kept
		}
	}

	if removed > 0 {
		q.logger.Debug("evicted queue entries", "count", removed)
	}
	return removed
}

// RunEviction evicts on a ticker until the context is cancelled.
func (q *Queues) RunEviction(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Evict(maxAge)
		}
	}
}

// Stats summarizes queue contents by delivery status.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	ByStatus     map[Status]int `json:"by_status"`
}

// Statistics returns counts of entries grouped by status.
func (q *Queues) Statistics() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{
		TotalEntries: len(q.byID),
		ByStatus:     make(map[Status]int),
	}
	for _, e := range q.byID {
		s.ByStatus[e.Status()]++
	}
	return s
}
