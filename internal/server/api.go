// ABOUTME: HTTP API handlers for registration, messaging, and broadcast.
// ABOUTME: JSON request/response over a standard mux with method patterns.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/helmsman-ai/helmsman/internal/queue"
	"github.com/helmsman-ai/helmsman/internal/registry"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleRegister)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeregister)
	mux.HandleFunc("POST /api/agents/{id}/state", s.handleUpdateState)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/agents/{id}/ping", s.handlePing)
	mux.HandleFunc("GET /api/agents/{id}/history", s.handleHistory)

	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("GET /api/collect/{message_id}", s.handleCollect)
	mux.HandleFunc("POST /api/broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /api/broadcast/collect", s.handleBroadcastCollect)

	mux.HandleFunc("GET /api/stats", s.handleStats)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotRegistered),
		errors.Is(err, queue.ErrUnknownMessage):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrStaleInstance),
		errors.Is(err, registry.ErrInstanceMismatch),
		errors.Is(err, registry.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports ready once at least one agent is READY.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.registry.List(registry.Filter{State: registry.StateReady})
	if len(ready) == 0 {
		writeError(w, http.StatusServiceUnavailable, errors.New("no agents ready"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ready_agents": len(ready)})
}

type registerRequest struct {
	AgentID      string            `json:"agent_id"`
	InstanceID   string            `json:"instance_id"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	StartTime    time.Time         `json:"start_time"`
	Version      string            `json:"version,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.StartTime.IsZero() {
		req.StartTime = time.Now()
	}

	err := s.registry.Register(registry.Registration{
		AgentID:      req.AgentID,
		InstanceID:   req.InstanceID,
		Host:         req.Host,
		Port:         req.Port,
		StartTime:    req.StartTime,
		Version:      req.Version,
		Capabilities: req.Capabilities,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	f := registry.Filter{
		State:      registry.State(r.URL.Query().Get("state")),
		Capability: r.URL.Query().Get("capability"),
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.registry.List(f)})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.GetInfo(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	instanceID := r.URL.Query().Get("instance_id")
	if err := s.registry.Deregister(r.PathValue("id"), instanceID); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

type stateRequest struct {
	InstanceID string            `json:"instance_id"`
	State      string            `json:"state"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := s.registry.UpdateState(r.PathValue("id"), req.InstanceID, registry.State(req.State), req.Metadata)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "state": req.State})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Heartbeat(r.PathValue("id")); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	rtt, err := s.dispatcher.Ping(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rtt_ms": rtt.Milliseconds()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("delivery history is disabled"))
		return
	}

	agentID := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	deliveries, err := s.history.ListByAgent(agentID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := s.history.AgentStats(agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deliveries": deliveries,
		"stats":      stats,
	})
}

type sendRequest struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
}

// handleSend queues a message for one agent. Delivery is asynchronous; the
// returned message ID feeds /api/collect.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent_id is required"))
		return
	}

	id := s.queues.Enqueue(req.AgentID, req.Content)
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	timeout := s.config.Agents.ResponseTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := s.queues.Collect(ctx, r.PathValue("message_id"))
	if err != nil {
		if errors.Is(err, queue.ErrNotReady) {
			writeError(w, http.StatusRequestTimeout, err)
			return
		}
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resultPayload(res))
}

type broadcastRequest struct {
	Content    string   `json:"content"`
	AgentIDs   []string `json:"agent_ids,omitempty"`
	Capability string   `json:"capability,omitempty"`
}

// handleBroadcast fans content out to the named agents, or to every READY
// agent (optionally narrowed by capability) when agent_ids is empty.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	targets := req.AgentIDs
	if len(targets) == 0 {
		for _, rec := range s.registry.List(registry.Filter{State: registry.StateReady, Capability: req.Capability}) {
			targets = append(targets, rec.AgentID)
		}
	}
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no target agents"))
		return
	}

	handles := s.broadcaster.Send(req.Content, targets)
	writeJSON(w, http.StatusAccepted, map[string]any{"handles": handles})
}

type broadcastCollectRequest struct {
	Handles map[string]string `json:"handles"`
	Timeout string            `json:"timeout,omitempty"`
}

func (s *Server) handleBroadcastCollect(w http.ResponseWriter, r *http.Request) {
	var req broadcastCollectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	timeout := s.config.Agents.ResponseTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		timeout = d
	}

	results := s.broadcaster.CollectAll(r.Context(), req.Handles, timeout)

	payload := make(map[string]any, len(results))
	for agentID, res := range results {
		payload[agentID] = resultPayload(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipients": len(req.Handles),
		"responses":  len(results),
		"results":    payload,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registry": s.registry.Statistics(),
		"queues":   s.queues.Statistics(),
	})
}

func resultPayload(res queue.Result) map[string]any {
	out := map[string]any{
		"agent_id":   res.AgentID,
		"message_id": res.MessageID,
		"success":    res.Success,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if res.Success {
		out["response"] = res.Response
	} else if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out
}
