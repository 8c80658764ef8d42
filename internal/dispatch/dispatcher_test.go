// ABOUTME: Tests for the dispatcher against real TCP listeners
// ABOUTME: Covers delivery, failures, missing endpoints, slow agents, and ping

package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/internal/queue"
)

// fakeAgent is a single-exchange NDJSON listener. handle decides the reply
// for each request line; returning "" closes the connection without replying.
type fakeAgent struct {
	addr     string
	listener net.Listener
}

func startFakeAgent(t *testing.T, handle func(env Envelope) string) *fakeAgent {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				var env Envelope
				if err := json.Unmarshal(line, &env); err != nil {
					return
				}
				reply := handle(env)
				if reply == "" {
					return
				}
				conn.Write([]byte(reply + "\n"))
			}(conn)
		}
	}()

	return &fakeAgent{addr: ln.Addr().String(), listener: ln}
}

func echoHandler(env Envelope) string {
	switch env.Type {
	case "ping":
		return `{"type":"pong"}`
	case "chat":
		reply, _ := json.Marshal(Reply{
			Type:      ReplyChatResponse,
			Content:   "echo: " + env.Content,
			MessageID: env.MessageID,
		})
		return string(reply)
	}
	return ""
}

// stubEndpoints maps agent IDs to addresses and counts observed traffic.
type stubEndpoints struct {
	mu       sync.Mutex
	addrs    map[string]string
	observed map[string]int
}

func newStubEndpoints() *stubEndpoints {
	return &stubEndpoints{
		addrs:    make(map[string]string),
		observed: make(map[string]int),
	}
}

func (s *stubEndpoints) Endpoint(agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addrs[agentID]
	if !ok {
		return "", errors.New("no endpoint")
	}
	return addr, nil
}

func (s *stubEndpoints) ObserveTraffic(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed[agentID]++
}

func (s *stubEndpoints) observedCount(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[agentID]
}

type recordedDelivery struct {
	agentID string
	success bool
}

type stubRecorder struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
}

func (r *stubRecorder) Record(agentID, messageID string, success bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, recordedDelivery{agentID: agentID, success: success})
}

func (r *stubRecorder) all() []recordedDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedDelivery(nil), r.deliveries...)
}

func testOptions() Options {
	return Options{
		Interval:        10 * time.Millisecond,
		ConnectTimeout:  time.Second,
		ResponseTimeout: time.Second,
	}
}

func newTestDispatcher(q *queue.Queues, eps EndpointSource, rec Recorder) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(q, eps, rec, testOptions(), logger)
}

func TestDispatch_DeliversAndCompletes(t *testing.T) {
	agent := startFakeAgent(t, echoHandler)
	eps := newStubEndpoints()
	eps.addrs["apollo"] = agent.addr
	rec := &stubRecorder{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, rec)

	id := q.Enqueue("apollo", "hello there")
	d.Dispatch()

	res, err := q.Collect(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "echo: hello there", res.Response)

	assert.Equal(t, 1, eps.observedCount("apollo"))

	deliveries := rec.all()
	require.Len(t, deliveries, 1)
	assert.True(t, deliveries[0].success)
}

func TestDispatch_NoEndpointLeavesPending(t *testing.T) {
	eps := newStubEndpoints()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	id := q.Enqueue("unregistered", "hello")
	d.Dispatch()

	e, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, e.Status())

	// The agent comes online; the next pass delivers.
	agent := startFakeAgent(t, echoHandler)
	eps.mu.Lock()
	eps.addrs["unregistered"] = agent.addr
	eps.mu.Unlock()

	d.Dispatch()
	res, err := q.Collect(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDispatch_ConnectionRefusedFailsEntry(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	ln.Close()

	eps := newStubEndpoints()
	eps.addrs["apollo"] = deadAddr
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	id := q.Enqueue("apollo", "hello")
	d.Dispatch()

	res, err := q.Collect(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestDispatch_GarbageReplyFailsEntry(t *testing.T) {
	agent := startFakeAgent(t, func(env Envelope) string {
		return "{not json"
	})
	eps := newStubEndpoints()
	eps.addrs["apollo"] = agent.addr
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	id := q.Enqueue("apollo", "hello")
	d.Dispatch()

	res, err := q.Collect(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrBadReply)
}

func TestDispatch_WrongReplyTypeFailsEntry(t *testing.T) {
	agent := startFakeAgent(t, func(env Envelope) string {
		return `{"type":"pong"}`
	})
	eps := newStubEndpoints()
	eps.addrs["apollo"] = agent.addr
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	id := q.Enqueue("apollo", "hello")
	d.Dispatch()

	res, err := q.Collect(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrBadReply)
}

func TestDispatch_SlowAgentDoesNotBlockOthers(t *testing.T) {
	fast := startFakeAgent(t, echoHandler)
	slow := startFakeAgent(t, func(env Envelope) string {
		time.Sleep(300 * time.Millisecond)
		return echoHandler(env)
	})

	eps := newStubEndpoints()
	eps.addrs["fast"] = fast.addr
	eps.addrs["slow"] = slow.addr
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	fastID := q.Enqueue("fast", "hello")
	q.Enqueue("slow", "hello")

	go d.Dispatch()

	// The fast agent's reply must land well before the slow agent finishes.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res, err := q.Collect(ctx, fastID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRun_DrainsOnTicker(t *testing.T) {
	agent := startFakeAgent(t, echoHandler)
	eps := newStubEndpoints()
	eps.addrs["apollo"] = agent.addr
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := q.Enqueue("apollo", "hello")

	collectCtx, collectCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer collectCancel()
	res, err := q.Collect(collectCtx, id)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPing(t *testing.T) {
	agent := startFakeAgent(t, echoHandler)
	eps := newStubEndpoints()
	eps.addrs["apollo"] = agent.addr
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(logger)
	d := newTestDispatcher(q, eps, nil)

	rtt, err := d.Ping("apollo")
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Equal(t, 1, eps.observedCount("apollo"))

	_, err = d.Ping("ghost")
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"chat response", `{"type":"chat_response","content":"hi","message_id":"m1"}`, false},
		{"pong", `{"type":"pong"}`, false},
		{"health response", `{"type":"health_response"}`, false},
		{"unknown type", `{"type":"surprise"}`, true},
		{"missing type", `{"content":"hi"}`, true},
		{"not json", `garbage`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseReply([]byte(tt.line))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadReply)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
