// Package config handles configuration loading for helmsman.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HELMSMAN_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/helmsman/helmsman.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	registry:
//	  path: "${HELMSMAN_DATA_DIR}/registry.json"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "90s"
//	  response_timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "localhost:8080"
//
// Registry document:
//
//	registry:
//	  path: "~/.local/share/helmsman/registry.json"
//
// Delivery history database (optional; empty disables history):
//
//	database:
//	  path: "~/.local/share/helmsman/history.db"
//
// Agent timing:
//
//	agents:
//	  heartbeat_interval: "30s"   # expected agent heartbeat cadence
//	  heartbeat_timeout: "90s"    # miss budget before an agent is FAILED
//	  dispatch_interval: "500ms"  # pending-queue drain cadence
//	  connect_timeout: "2s"       # TCP connect deadline per exchange
//	  response_timeout: "10s"     # response-line read deadline per exchange
//	  entry_max_age: "1h"         # queue entry eviction age
//	  eviction_interval: "5m"     # eviction sweep cadence
package config
