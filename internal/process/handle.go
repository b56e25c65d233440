package process

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OutputFunc receives one chunk of output. The chunk is owned by the
// callee. A returned error is logged and delivery continues.
type OutputFunc func(chunk []byte) error

// ExitFunc receives the raw exit status.
type ExitFunc func(status int) error

// Handle is a running or terminated child process.
type Handle struct {
	id      string
	args    []string
	started time.Time
	reactor *Reactor

	state atomic.Int32
	pid   atomic.Int64

	stdin       *os.File
	stdout      *os.File
	stderr      *os.File
	stdinClosed atomic.Bool
	writeMu     sync.Mutex

	// Consumers are read and cleared under the reactor's dispatch lock.
	onOutput OutputFunc
	onError  OutputFunc
	onExit   ExitFunc

	watching [2]atomic.Bool
	pull     *pullReader

	// mu guards proc and sys against concurrent release.
	mu   sync.Mutex
	proc *os.Process
	sys  sysProc

	reapMu sync.Mutex
	reaped atomic.Bool
	status int

	tearing atomic.Bool
	done    chan struct{}
	exit    atomic.Int64
}

func newHandle(r *Reactor, args []string, child *Child, sys sysProc, opts SpawnOptions) *Handle {
	h := &Handle{
		id:       uuid.NewString(),
		args:     args,
		started:  time.Now(),
		reactor:  r,
		stdin:    child.Stdin,
		stdout:   child.Stdout,
		stderr:   child.Stderr,
		onOutput: opts.OnOutput,
		onError:  opts.OnError,
		onExit:   opts.OnExit,
		proc:     child.Process,
		sys:      sys,
		done:     make(chan struct{}),
	}
	h.pid.Store(int64(child.PID))
	h.watching[Stdout].Store(opts.OnOutput != nil)
	h.watching[Stderr].Store(true)
	if opts.OnOutput == nil {
		h.pull = newPullReader(stdoutSource{h}, r.chunkSize)
	}
	return h
}

// ID returns a unique identifier for the handle.
func (h *Handle) ID() string { return h.id }

// Args returns the argument vector the child was started with.
func (h *Handle) Args() []string { return append([]string(nil), h.args...) }

// Started returns the spawn time.
func (h *Handle) Started() time.Time { return h.started }

// PID returns the OS process id, or 0 once terminated.
func (h *Handle) PID() int { return int(h.pid.Load()) }

// State returns the lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Status returns "running" or "terminated".
func (h *Handle) Status() string { return h.State().String() }

// Done is closed when teardown completes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitStatus returns the raw status once the handle is terminated.
func (h *Handle) ExitStatus() (int, bool) {
	if h.State() != StateTerminated {
		return 0, false
	}
	return int(h.exit.Load()), true
}

func (h *Handle) String() string {
	return fmt.Sprintf("process %d (%s)", h.PID(), strings.Join(h.args, " "))
}

func (h *Handle) file(s Stream) *os.File {
	if s == Stderr {
		return h.stderr
	}
	return h.stdout
}

func (h *Handle) consumer(s Stream) OutputFunc {
	if s == Stderr {
		return h.onError
	}
	return h.onOutput
}

// Write sends chunks to the child's stdin in order. It blocks until each
// chunk is accepted by the pipe.
func (h *Handle) Write(chunks ...[]byte) error {
	if h.State() == StateTerminated {
		return ErrInvalidState
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		if _, err := h.stdin.Write(c); err != nil {
			return newIOError("write", err)
		}
	}
	return nil
}

// WriteString is Write for strings.
func (h *Handle) WriteString(chunks ...string) error {
	bs := make([][]byte, len(chunks))
	for i, c := range chunks {
		bs[i] = []byte(c)
	}
	return h.Write(bs...)
}

// Close closes the child's stdin so it sees end of input. Closing twice,
// or closing a terminated handle, does nothing.
func (h *Handle) Close() error {
	if h.State() == StateTerminated {
		return nil
	}
	if !h.stdinClosed.CompareAndSwap(false, true) {
		return nil
	}
	if err := h.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return newIOError("close", err)
	}
	return nil
}

// Kill forcibly terminates the child. Killing a child that has already
// exited does nothing.
func (h *Handle) Kill() error {
	if h.State() == StateTerminated || h.reaped.Load() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tearing.Load() || h.reaped.Load() {
		return nil
	}
	if err := h.sys.kill(h.PID()); err != nil && !isProcessGone(err) {
		return newIOError("kill", err)
	}
	return nil
}

// Wait blocks until the child exits and its teardown has run. It returns
// ErrInvalidState when the handle is already terminated. Wait must not be
// called from a consumer.
func (h *Handle) Wait() error {
	if h.State() == StateTerminated {
		return ErrInvalidState
	}
	return h.join()
}

func (h *Handle) join() error {
	status, reaped, err := h.reapBlocking()
	if err != nil {
		h.reactor.finish(h, -1)
		return newIOError("wait", err)
	}
	if reaped {
		h.reactor.finish(h, status)
	}
	<-h.done
	return nil
}

// Read reads stdout when it has no consumer. It blocks until the mode is
// satisfied and returns io.EOF at end of stream. Stderr keeps being drained
// while Read waits, so no Step is needed for the child to make progress. Data left in the pipe at
// teardown stays readable after termination.
func (h *Handle) Read(mode ReadMode) ([]byte, error) {
	if h.pull == nil {
		return nil, ErrPushMode
	}
	return h.pull.read(mode)
}

// stdoutSource feeds the pull reader. While stdout is empty it keeps
// stderr flowing, so a child blocked writing stderr cannot stall a Read.
type stdoutSource struct{ h *Handle }

func (s stdoutSource) Read(p []byte) (int, error) {
	for {
		n, err := readNonblock(s.h.stdout, p)
		if !errors.Is(err, errWouldBlock) {
			return n, err
		}
		if err := s.h.reactor.awaitStdout(s.h); err != nil {
			return 0, err
		}
	}
}

// tryReap collects the exit status without blocking. busy is true when a
// concurrent Wait owns the reap.
func (h *Handle) tryReap() (status int, exited, busy bool) {
	if !h.reapMu.TryLock() {
		return 0, false, true
	}
	defer h.reapMu.Unlock()
	if h.reaped.Load() {
		return 0, false, true
	}
	st, ok, err := h.sys.tryWait(h.PID())
	if err != nil {
		// The status was collected elsewhere; report an unknown one.
		h.status = -1
		h.reaped.Store(true)
		return -1, true, false
	}
	if !ok {
		return 0, false, false
	}
	h.status = st
	h.reaped.Store(true)
	return st, true, false
}

func (h *Handle) reapBlocking() (status int, reaped bool, err error) {
	h.reapMu.Lock()
	defer h.reapMu.Unlock()
	if h.reaped.Load() {
		return h.status, false, nil
	}
	st, err := h.sys.wait(h.PID())
	if err != nil {
		h.reaped.Store(true)
		return 0, false, err
	}
	h.status = st
	h.reaped.Store(true)
	return st, true, nil
}

// release closes every OS resource the handle owns.
func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdinClosed.CompareAndSwap(false, true) {
		_ = h.stdin.Close()
	}
	_ = h.stdout.Close()
	_ = h.stderr.Close()
	h.sys.release()
	if h.proc != nil {
		_ = h.proc.Release()
		h.proc = nil
	}
	h.onOutput, h.onError, h.onExit = nil, nil, nil
	h.pid.Store(0)
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, errProcessGone)
}
