package process

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects how readiness is detected.
type Strategy int

const (
	// StrategyAuto uses StrategyEvent when available, else StrategyPoll.
	StrategyAuto Strategy = iota
	// StrategyEvent registers kernel watches per descriptor and per child.
	StrategyEvent
	// StrategyPoll scans the registry on a fixed interval.
	StrategyPoll
)

func (s Strategy) String() string {
	switch s {
	case StrategyEvent:
		return "event"
	case StrategyPoll:
		return "poll"
	default:
		return "auto"
	}
}

// ParseStrategy parses "auto", "event" or "poll".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return StrategyAuto, nil
	case "event", "epoll":
		return StrategyEvent, nil
	case "poll":
		return StrategyPoll, nil
	}
	return StrategyAuto, fmt.Errorf("unknown strategy %q", s)
}

type eventKind int

const (
	evStdout eventKind = iota
	evStderr
	evExit
)

func streamEvent(s Stream) eventKind {
	if s == Stderr {
		return evStderr
	}
	return evStdout
}

// readiness is one thing the dispatcher must act on. For evExit the child
// has already been reaped and status holds its raw status.
type readiness struct {
	h      *Handle
	kind   eventKind
	status int
}

// backend detects readiness for the reactor. Every method but wait may be
// called from any goroutine; wait is only called by the driving goroutine.
type backend interface {
	add(h *Handle) error
	// unwatch stops watching one stream after end of stream.
	unwatch(h *Handle, s Stream)
	remove(h *Handle)
	wait(timeout time.Duration) ([]readiness, error)
	close() error
}

func newBackend(s Strategy, reg *Registry) (backend, Strategy, error) {
	switch s {
	case StrategyEvent:
		b, err := newEventBackend()
		if err != nil {
			return nil, s, err
		}
		return b, StrategyEvent, nil
	case StrategyPoll:
		return newPollBackend(reg), StrategyPoll, nil
	default:
		if b, err := newEventBackend(); err == nil {
			return b, StrategyEvent, nil
		}
		return newPollBackend(reg), StrategyPoll, nil
	}
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := int(d / time.Millisecond)
	if ms == 0 && d > 0 {
		ms = 1
	}
	return ms
}
