package process

import "fmt"

// State is the lifecycle state of a Handle.
type State int32

const (
	// StateRunning is the state from spawn until teardown.
	StateRunning State = iota
	// StateTerminated is final; the handle holds no OS resources.
	StateTerminated
)

// String returns "running" or "terminated".
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Stream identifies one of the two output pipes.
type Stream int

const (
	// Stdout is the child's standard output.
	Stdout Stream = iota
	// Stderr is the child's standard error.
	Stderr
)

var streams = [...]Stream{Stdout, Stderr}

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}
