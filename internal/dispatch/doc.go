// Package dispatch delivers queued messages to agent sockets.
//
// The wire protocol is newline-delimited JSON over TCP. Each delivery opens
// a fresh connection, writes exactly one request line, reads exactly one
// reply line, and closes; connections are never pooled. Requests look like:
//
//	{"type":"chat","content":"...","message_id":"..."}
//	{"type":"ping"}
//
// and agents answer with chat_response or pong lines carrying the same
// message ID.
//
// The Dispatcher drains PENDING queue entries on a ticker. Entries for agents
// with no known endpoint stay pending for a later pass; once an entry is
// claimed, a connect, write, read, or parse failure marks it ERRORED.
// Successful exchanges count as agent liveness.
package dispatch
