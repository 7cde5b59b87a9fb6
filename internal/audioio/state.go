package audioio

// EngineState is the run state of a capture or render engine
type EngineState int32

const (
	// StateIdle: device open, no descriptors submitted.
	StateIdle EngineState = iota
	// StateActive: descriptors in flight, callbacks firing.
	StateActive
	// StateDraining: no new descriptors are submitted, in-flight ones are being retired.
	StateDraining
	// StateClosed: device handle released.
	StateClosed
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction identifies the data flow of a device
type Direction int

const (
	Capture Direction = iota
	Render
)

func (d Direction) String() string {
	if d == Render {
		return "render"
	}
	return "capture"
}
