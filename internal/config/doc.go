// Package config handles configuration loading for unconv-server.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. The decoder is picked by file extension: ".toml" uses TOML,
// anything else is read as YAML.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from UNCONV_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/unconv/server.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${UNCONV_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	auth:
//	  jwt_ttl: "24h"
//	  sensor_token_ttl: "2160h"
//	  token_cleanup_interval: "1h"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"            # sqlite or postgres
//	  path: "/var/lib/unconv/unconv.db"
//	  dsn: "postgres://..."       # postgres only
//
//	auth:
//	  jwt_secret: "${UNCONV_JWT_SECRET}"  # at least 32 bytes
//	  jwt_issuer: "UNCONV"
//	  sensor_token_param: "access_token"
//	  skip_header_auth: false
//	  bcrypt_cost: 10
//
//	ingest:
//	  max_batch: 1000
//	  idempotency_ttl: "10m"
//
//	sink:
//	  clickhouse_dsn: "clickhouse://localhost:9000/unconv"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load("/etc/unconv/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
