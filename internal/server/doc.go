// Package server wires the coordination components into one process.
//
// New builds the registry, health monitor, message queues, dispatcher,
// broadcast coordinator, and optional delivery history from configuration,
// then exposes them over a JSON HTTP API:
//
//	GET    /health                       liveness
//	GET    /health/ready                 ready once any agent is READY
//	GET    /api/agents                   list, ?state= and ?capability= filters
//	POST   /api/agents                   register an instance
//	GET    /api/agents/{id}              registration snapshot
//	DELETE /api/agents/{id}              deregister, ?instance_id= guard
//	POST   /api/agents/{id}/state        lifecycle transition
//	POST   /api/agents/{id}/heartbeat    liveness refresh
//	POST   /api/agents/{id}/ping         round-trip the agent socket
//	GET    /api/agents/{id}/history      recorded deliveries and stats
//	POST   /api/send                     queue a message, returns message_id
//	GET    /api/collect/{message_id}     wait for the outcome, ?timeout=
//	POST   /api/broadcast                fan out, returns per-agent handles
//	POST   /api/broadcast/collect        gather broadcast results
//	GET    /api/stats                    registry and queue statistics
//
// Run starts the monitor, dispatcher, and eviction loops alongside the HTTP
// server and shuts everything down when its context is cancelled.
package server
