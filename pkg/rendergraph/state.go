package rendergraph

import "fmt"

// State is the orchestrator's position in a batch.
//
//	Idle -> Compute -> WaitingReady -> Render -> Cleanup -> Idle
//
// Cancellation jumps from any state to Cleanup.
type State int

const (
	StateIdle State = iota
	StateCompute
	StateWaitingReady
	StateRender
	StateCleanup
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompute:
		return "compute"
	case StateWaitingReady:
		return "waiting_ready"
	case StateRender:
		return "render"
	case StateCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
