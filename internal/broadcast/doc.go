// Package broadcast fans a single message out to a set of agents.
//
// Send enqueues one copy per recipient and returns a handle map of agent ID
// to message ID. Collect then streams results as agents answer, under one
// shared deadline: a broadcast to ten agents with a five second timeout takes
// at most five seconds regardless of how many respond. Agents that miss the
// deadline are dropped silently; their entries stay in the queue and can
// still be inspected individually until eviction.
package broadcast
