// ABOUTME: Message entry with a monotonic delivery status and completion signal.
// ABOUTME: Status moves PENDING -> SENT -> RESPONDED or ERRORED, never backward.

package queue

import (
	"sync"
	"time"
)

// Status is the delivery state of a queued message.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusResponded Status = "RESPONDED"
	StatusErrored   Status = "ERRORED"
)

// Terminal reports whether the status is a final delivery outcome.
func (s Status) Terminal() bool {
	return s == StatusResponded || s == StatusErrored
}

// Entry is one message queued for an agent. The status only moves forward;
// each transition is compare-and-swap so concurrent dispatchers cannot claim
// or complete the same entry twice. The done channel closes exactly once,
// when the entry reaches a terminal status.
type Entry struct {
	MessageID string
	AgentID   string
	Content   string
	CreatedAt time.Time

	mu       sync.Mutex
	status   Status
	response string
	err      error
	sentAt   time.Time
	doneAt   time.Time
	done     chan struct{}
}

func newEntry(messageID, agentID, content string, now time.Time) *Entry {
	return &Entry{
		MessageID: messageID,
		AgentID:   agentID,
		Content:   content,
		CreatedAt: now,
		status:    StatusPending,
		done:      make(chan struct{}),
	}
}

// Status returns the current delivery status.
func (e *Entry) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Done returns a channel that closes when the entry reaches a terminal status.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// markSent claims the entry for delivery. Returns false if another dispatcher
// already claimed it or it is already terminal.
func (e *Entry) markSent(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPending {
		return false
	}
	e.status = StatusSent
	e.sentAt = now
	return true
}

// complete records a successful response. Returns false if the entry was
// already terminal.
func (e *Entry) complete(response string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return false
	}
	e.status = StatusResponded
	e.response = response
	e.doneAt = now
	close(e.done)
	return true
}

// fail records a delivery error. Returns false if the entry was already
// terminal.
func (e *Entry) fail(err error, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return false
	}
	e.status = StatusErrored
	e.err = err
	e.doneAt = now
	close(e.done)
	return true
}

// Result is the terminal outcome of one entry. Valid only after Done closes.
type Result struct {
	AgentID   string
	MessageID string
	Success   bool
	Response  string
	Err       error
	Elapsed   time.Duration
}

// result snapshots the terminal outcome. Call only after Done has closed.
func (e *Entry) result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Result{
		AgentID:   e.AgentID,
		MessageID: e.MessageID,
		Success:   e.status == StatusResponded,
		Response:  e.response,
		Err:       e.err,
		Elapsed:   e.doneAt.Sub(e.CreatedAt),
	}
}
