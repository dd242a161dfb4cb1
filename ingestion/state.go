package ingestion

import "fmt"

// State is the lifecycle position of a Pipeline.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining // fetch finished or canceled; downstream stages emptying
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
