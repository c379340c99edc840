package httpx

import "dqx0.com/go/hyperws/internal/obs"

// Logger receives the server's diagnostic output as (severity, module,
// message) entries.
type Logger = obs.Logger

// LogLevel is the severity passed to a Logger.
type LogLevel = obs.Level

const (
	LevelDebug = obs.Debug
	LevelInfo  = obs.Info
	LevelWarn  = obs.Warn
	LevelError = obs.Error
)

// Meter receives connection and request measurements.
type Meter = obs.Meter

// MetricLabel is attached to measurements sent to a Meter.
type MetricLabel = obs.Label

// logModule is the module name every server log entry carries.
const logModule = "hyperws"

const (
	metricAccepted = "hyperws_connections_accepted_total"
	metricClosed   = "hyperws_connections_closed_total"
	metricAborted  = "hyperws_connections_aborted_total"
	metricTimeouts = "hyperws_connection_timeouts_total"
	metricRequests = "hyperws_requests_total"
	metricDuration = "hyperws_request_duration_seconds"
)
