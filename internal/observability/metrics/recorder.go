// Package metrics provides Prometheus metrics for the PCM capture and render engines.
package metrics

// Recorder is the metrics surface used by the audio engines. Engines depend
// on this interface so tests can run without a Prometheus registry.
//
// Every method is called from an engine worker goroutine, never from the
// device notification context.
type Recorder interface {
	// RecordCompletion counts a descriptor completion and the bytes it carried.
	RecordCompletion(direction string, bytes int)

	// RecordCallback records one receive or supply callback invocation.
	// status is StatusSuccess, StatusError or StatusPanic.
	RecordCallback(direction, status string, seconds float64)

	// RecordResubmit counts a descriptor handed back to the device.
	RecordResubmit(direction, status string)

	// RecordRelease counts a descriptor retired from the arena.
	RecordRelease(direction string)

	// RecordDegraded counts a buffer slot lost to a failed recycle.
	RecordDegraded(direction string)

	// RecordUnderrun counts a supply callback that returned no data.
	RecordUnderrun()

	// SetInFlight reports how many descriptors the device currently owns.
	SetInFlight(direction string, n int)

	// SetState marks the current engine state.
	SetState(direction, state string)
}

// NopRecorder discards all measurements
type NopRecorder struct{}

func (NopRecorder) RecordCompletion(string, int) {}
func (NopRecorder) RecordCallback(string, string, float64) {}
func (NopRecorder) RecordResubmit(string, string) {}
func (NopRecorder) RecordRelease(string) {}
func (NopRecorder) RecordDegraded(string) {}
func (NopRecorder) RecordUnderrun() {}
func (NopRecorder) SetInFlight(string, int) {}
func (NopRecorder) SetState(string, string) {}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*EngineMetrics)(nil)
)
