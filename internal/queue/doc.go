// Package queue implements per-agent message queues.
//
// Each message gets a UUID and an Entry whose delivery status moves strictly
// forward: PENDING -> SENT -> RESPONDED or ERRORED. Transitions are
// compare-and-swap, so two dispatchers racing on the same entry cannot both
// claim it, and a late failure cannot overwrite a recorded response.
//
// Callers wait for outcomes with Collect (single message) or CollectMany
// (a batch of message IDs under one shared deadline, keyed by message ID).
// Waiting is signalled by each entry's done channel; there is no polling.
// A timed-out Collect leaves the entry untouched, so the outcome can still
// be retrieved later until eviction removes it.
//
// Eviction purges entries past the max age whatever their status. Entries
// still pending, say for an agent that never registered, are failed with
// ErrEvicted first so waiters unblock, then dropped.
package queue
