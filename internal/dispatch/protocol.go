// ABOUTME: Newline-delimited JSON wire protocol spoken to agent sockets.
// ABOUTME: Defines request envelopes, reply parsing, and the single-exchange codec.

package dispatch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrBadReply indicates the agent's response line could not be parsed or was
// of an unexpected type.
var ErrBadReply = errors.New("malformed agent reply")

// Envelope is one request line written to an agent socket.
type Envelope struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Reply is one response line read back from an agent socket.
type Reply struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	AIID      string `json:"ai_id,omitempty"`
}

// Reply types an agent may send back. Anything else is a protocol error.
const (
	ReplyChatResponse   = "chat_response"
	ReplyPong           = "pong"
	ReplyHealthResponse = "health_response"
	ReplyInfoResponse   = "info_response"
)

func parseReply(line []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	switch r.Type {
	case ReplyChatResponse, ReplyPong, ReplyHealthResponse, ReplyInfoResponse:
		return &r, nil
	default:
		return nil, fmt.Errorf("%w: unexpected type %q", ErrBadReply, r.Type)
	}
}

// exchange opens a fresh connection to addr, writes one envelope, reads one
// reply line, and closes the connection. Every request gets its own
// connection; nothing is pooled or reused.
func exchange(addr string, env Envelope, connectTimeout, responseTimeout time.Duration) (*Reply, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	payload = append(payload, '\n')

	if err := conn.SetDeadline(time.Now().Add(responseTimeout)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("writing to %s: %w", addr, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading reply from %s: %w", addr, err)
	}
	return parseReply(line)
}
