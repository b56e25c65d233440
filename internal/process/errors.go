package process

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors for the process package.
var (
	// ErrSpawnFailed matches every *SpawnError.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrInvalidState is returned by operations that need a running process.
	ErrInvalidState = errors.New("process is not running")

	// ErrPushMode is returned by Read when stdout goes to a consumer.
	ErrPushMode = errors.New("stdout is delivered to a consumer")

	// ErrReactorClosed is returned after Close.
	ErrReactorClosed = errors.New("reactor is closed")

	// ErrProcessLimit is returned when WithMaxProcesses is exceeded.
	ErrProcessLimit = errors.New("process limit reached")

	// ErrUnsupported is returned when a readiness strategy is unavailable.
	ErrUnsupported = errors.New("readiness strategy not supported")

	errWouldBlock = errors.New("no data available")
)

// SpawnError describes a failure to create a child process.
type SpawnError struct {
	Program string
	Op      string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s: %v", e.Program, e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSpawnFailed) true for any SpawnError.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawnFailed }

// IOError is a pipe read or write failure other than end of stream.
type IOError struct {
	Op string
	// Code is the OS error number, or 0 when the failure has none.
	Code int
	Err  error
}

func newIOError(op string, err error) *IOError {
	e := &IOError{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Code = int(errno)
	}
	return e
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
