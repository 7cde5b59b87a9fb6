package metrics

import "time"

// Label values for the direction label.
const (
	DirectionCapture = "capture"
	DirectionRender  = "render"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPanic   = "panic"
)

// Engine state label values, matching audioio.EngineState.String().
var engineStates = []string{"idle", "active", "draining", "closed"}

// ShutdownTimeout bounds the graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
