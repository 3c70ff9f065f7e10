// Package config handles configuration loading for coven-console.
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
//	api:
//	  token: "${COVEN_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  initial_retry_delay: "1s"
//
// # Configuration Sections
//
// Gateway API:
//
//	api:
//	  base_url: "https://gateway.example.com"
//	  token: "${COVEN_TOKEN}"
//
// Stream connection manager:
//
//	stream:
//	  max_concurrent_connections: 5
//	  max_retries: 3
//	  initial_retry_delay: "1s"
//
// Local history database:
//
//	database:
//	  path: "~/.local/share/coven-console/history.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
