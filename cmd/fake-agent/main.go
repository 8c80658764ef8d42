// ABOUTME: Minimal fake agent for E2E testing — listens on a socket, echoes chat messages.
// ABOUTME: Usage: fake-agent [-server localhost:8080] [-id echo-agent] [-port 0]
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
)

type request struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type response struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	AIID      string `json:"ai_id,omitempty"`
}

func main() {
	server := flag.String("server", "localhost:8080", "helmsman HTTP address")
	agentID := flag.String("id", "echo-agent", "Agent ID")
	port := flag.Int("port", 0, "Port to listen on (0 for random)")
	heartbeat := flag.Duration("heartbeat", 30*time.Second, "Heartbeat interval")
	flag.Parse()

	if err := run(*server, *agentID, *port, *heartbeat); err != nil {
		log.Fatal(err)
	}
}

func run(server, agentID string, port int, heartbeat time.Duration) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	instanceID := uuid.New().String()
	listenPort := ln.Addr().(*net.TCPAddr).Port

	if err := register(ctx, server, agentID, instanceID, listenPort); err != nil {
		return err
	}
	if err := setState(ctx, server, agentID, instanceID, "READY"); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "registered as %s (instance: %s) on port %d\n", agentID, instanceID, listenPort)

	go heartbeatLoop(ctx, server, agentID, heartbeat)

	go func() {
		<-ctx.Done()
		_ = setState(context.Background(), server, agentID, instanceID, "STOPPING")
		_ = setState(context.Background(), server, agentID, instanceID, "STOPPED")
		ln.Close()
	}()

	// Accept loop: one exchange per connection.
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("accept error: %w", err)
		}
		go handle(conn, agentID)
	}
}

func handle(conn net.Conn, agentID string) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		log.Printf("bad request line: %v", err)
		return
	}

	var resp response
	switch req.Type {
	case "ping":
		resp = response{Type: "pong", AIID: agentID}
	case "chat":
		log.Printf("received message [%s]: %s", req.MessageID, req.Content)
		resp = response{
			Type:      "chat_response",
			Content:   echoReply(req.Content),
			MessageID: req.MessageID,
			AIID:      agentID,
		}
	default:
		log.Printf("ignoring request type %q", req.Type)
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	payload = append(payload, '\n')
	_, _ = conn.Write(payload)
}

func echoReply(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "echo: (empty message)"
	}
	return "echo: " + trimmed
}

func register(ctx context.Context, server, agentID, instanceID string, port int) error {
	body := map[string]any{
		"agent_id":     agentID,
		"instance_id":  instanceID,
		"host":         "127.0.0.1",
		"port":         port,
		"start_time":   time.Now().Format(time.RFC3339Nano),
		"capabilities": []string{"chat", "echo"},
	}
	return postJSON(ctx, fmt.Sprintf("http://%s/api/agents", server), body)
}

func setState(ctx context.Context, server, agentID, instanceID, state string) error {
	body := map[string]any{
		"instance_id": instanceID,
		"state":       state,
	}
	return postJSON(ctx, fmt.Sprintf("http://%s/api/agents/%s/state", server, agentID), body)
}

func heartbeatLoop(ctx context.Context, server, agentID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			url := fmt.Sprintf("http://%s/api/agents/%s/heartbeat", server, agentID)
			if err := postJSON(ctx, url, map[string]any{}); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}

func postJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return nil
}
