// Package registry tracks agent registrations and their lifecycle state.
//
// # Overview
//
// Each agent registers once per process with a unique instance ID. The
// registry keeps an in-memory table keyed by agent ID, persists it as a
// single JSON document on every mutation, and enforces the lifecycle state
// machine:
//
//	UNINITIALIZED -> STARTING -> READY <-> DEGRADED
//	READY/DEGRADED -> STOPPING -> STOPPED
//	STARTING/READY/DEGRADED -> FAILED
//
// FAILED and STOPPED are terminal. A record in a terminal state stays in the
// table until it is deregistered or superseded by a new instance.
//
// # Duplicate Registrations
//
// When two instances claim the same agent ID, the one with the newer start
// time wins. A stale instance registering over a newer one gets
// ErrStaleInstance and should exit.
//
// # Health Monitoring
//
// The Monitor sweeps the table on an interval. A READY or DEGRADED agent
// whose last heartbeat is older than the configured timeout is forced to
// FAILED with the miss recorded in its metadata. Any observed traffic from
// an agent counts as a heartbeat.
package registry
