// Package logging provides centralized logging utilities for the relay.
// It defines standardized field names and helper functions to ensure consistent
// structured logging across every component.
package logging

// Standard field name constants for structured logging.
const (
	// Component identification
	FieldComponent = "component"

	// Peer/connection fields
	FieldKey        = "key"
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldListenAddr = "listen_addr"
	FieldAddr       = "addr"
	FieldCloseCode  = "close_code"

	// Request/session fields
	FieldRequestID    = "request_id"
	FieldMode         = "mode"
	FieldSessionState = "session_state"
	FieldOldState     = "old_state"
	FieldNewState     = "new_state"
	FieldEvent        = "event"
	FieldErrorCount   = "error_count"

	// Operation fields
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldResult    = "result"
	FieldReason    = "reason"
	FieldStatus    = "status"
	FieldBackend   = "backend"

	// Timing fields
	FieldDuration = "duration"
	FieldLatency  = "latency"

	// Count/size fields
	FieldCount = "count"
	FieldSize  = "size"
	FieldChars = "chars"
)

// Component name constants for the "component" field.
const (
	ComponentServer           = "http_server"
	ComponentCompletion       = "completion_handler"
	ComponentRegistry         = "connection_registry"
	ComponentHeartbeatMonitor = "heartbeat_monitor"
	ComponentDuplexEndpoint   = "duplex_endpoint"
	ComponentDonations        = "donations"
	ComponentRateLimiter      = "rate_limiter"
	ComponentConfigWatcher    = "config_watcher"
	ComponentRedisHealth      = "redis_health"
	ComponentObservability    = "observability"
	ComponentRuntimeMetrics   = "runtime_metrics"
	ComponentPeer             = "peer"
)
