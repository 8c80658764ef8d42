// ABOUTME: Dispatcher that drains pending queue entries to agent sockets.
// ABOUTME: Claims entries via CAS, delivers each on its own connection, records outcomes.

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/internal/queue"
)

// EndpointSource resolves agent addresses and absorbs liveness signals.
// The registry implements it.
type EndpointSource interface {
	Endpoint(agentID string) (string, error)
	ObserveTraffic(agentID string)
}

// Recorder receives delivery outcomes. The history store implements it;
// recording is best-effort and never blocks delivery.
type Recorder interface {
	Record(agentID, messageID string, success bool, elapsed time.Duration)
}

// Options holds dispatcher timing knobs.
type Options struct {
	Interval        time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
}

// Dispatcher moves PENDING entries from the queues onto agent sockets.
type Dispatcher struct {
	queues    *queue.Queues
	endpoints EndpointSource
	recorder  Recorder
	opts      Options
	logger    *slog.Logger
}

// New creates a Dispatcher. recorder may be nil to disable history.
func New(queues *queue.Queues, endpoints EndpointSource, recorder Recorder, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queues:    queues,
		endpoints: endpoints,
		recorder:  recorder,
		opts:      opts,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Run drains pending entries on a ticker until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.Dispatch()
		}
	}
}

// Dispatch delivers every currently pending entry, one goroutine per entry,
// and waits for the batch to finish. A slow agent only delays its own entry.
func (d *Dispatcher) Dispatch() {
	pending := d.queues.Pending()
	if len(pending) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, e := range pending {
		wg.Add(1)
		go func(e *queue.Entry) {
			defer wg.Done()
			d.deliver(e)
		}(e)
	}
	wg.Wait()
}

// deliver sends one entry to its agent. The entry stays PENDING when the
// agent has no known endpoint, so a later pass can retry after the agent
// registers. Once claimed, any failure is terminal for the entry.
func (d *Dispatcher) deliver(e *queue.Entry) {
	addr, err := d.endpoints.Endpoint(e.AgentID)
	if err != nil {
		d.logger.Debug("no endpoint for agent, leaving entry pending",
			"agent_id", e.AgentID,
			"message_id", e.MessageID,
		)
		return
	}

	claimed, err := d.queues.MarkSent(e.MessageID)
	if err != nil || !claimed {
		return
	}

	start := time.Now()
	reply, err := exchange(addr, Envelope{
		Type:      "chat",
		Content:   e.Content,
		MessageID: e.MessageID,
	}, d.opts.ConnectTimeout, d.opts.ResponseTimeout)
	elapsed := time.Since(start)

	if err != nil {
		d.logger.Warn("delivery failed",
			"agent_id", e.AgentID,
			"message_id", e.MessageID,
			"error", err,
		)
		_ = d.queues.Fail(e.MessageID, err)
		d.record(e, false, elapsed)
		return
	}

	if reply.Type != ReplyChatResponse {
		err := fmt.Errorf("%w: expected %s, got %s", ErrBadReply, ReplyChatResponse, reply.Type)
		_ = d.queues.Fail(e.MessageID, err)
		d.record(e, false, elapsed)
		return
	}

	d.endpoints.ObserveTraffic(e.AgentID)
	_ = d.queues.Complete(e.MessageID, reply.Content)
	d.record(e, true, elapsed)

	d.logger.Debug("message delivered",
		"agent_id", e.AgentID,
		"message_id", e.MessageID,
		"elapsed", elapsed,
	)
}

func (d *Dispatcher) record(e *queue.Entry, success bool, elapsed time.Duration) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(e.AgentID, e.MessageID, success, elapsed)
}

// Ping sends a ping envelope to the agent and returns the round-trip time.
// A pong within the response timeout means the agent's socket is live.
func (d *Dispatcher) Ping(agentID string) (time.Duration, error) {
	addr, err := d.endpoints.Endpoint(agentID)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	reply, err := exchange(addr, Envelope{Type: "ping"}, d.opts.ConnectTimeout, d.opts.ResponseTimeout)
	if err != nil {
		return 0, err
	}
	if reply.Type != ReplyPong {
		return 0, fmt.Errorf("%w: expected %s, got %s", ErrBadReply, ReplyPong, reply.Type)
	}

	d.endpoints.ObserveTraffic(agentID)
	return time.Since(start), nil
}
