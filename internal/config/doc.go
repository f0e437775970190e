// Package config handles configuration loading for hub-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	peers:
//	  Waya: "${RELAY_WAYA_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  ping_interval: "45s"
//	  heartbeat_timeout: "90s"
//	  request_timeout: "20s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  listen_addr: "0.0.0.0:3005"  # websocket gateway listener
//
// Database:
//
//	database:
//	  path: "/var/lib/hub-relay/relay.db"
//
// Peer table (identity -> shared secret):
//
//	peers:
//	  Waya: "${RELAY_WAYA_SECRET}"
//	  StatusBot: "${RELAY_STATUSBOT_SECRET}"
//
// Protocol timing (defaults shown):
//
//	relay:
//	  ping_interval: "45s"
//	  heartbeat_timeout: "90s"
//	  request_timeout: "20s"
//	  sweep_interval: "20s"
//	  redelivery_interval: "20s"
//	  pending_max_age: "168h"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Listener address and database path presence
//   - At least one configured peer, none with an empty secret
//   - Heartbeat timeout at least the ping interval
//   - Duration format validity
package config
