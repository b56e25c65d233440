package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/argv"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/logging"
)

const (
	// DefaultChunkSize is the read size for output delivery.
	DefaultChunkSize = 1024
	// DefaultInterval is the tick used by Run and by the poll strategy.
	DefaultInterval = 10 * time.Millisecond
)

// SpawnOptions configures one child.
type SpawnOptions struct {
	// Dir is the working directory; empty inherits the caller's.
	Dir string
	// Env replaces the environment when non-nil.
	Env []string
	// Input is written to stdin right after the child starts.
	Input []byte

	OnOutput OutputFunc
	OnError  OutputFunc
	OnExit   ExitFunc
}

// Reactor owns live children and multiplexes their I/O.
type Reactor struct {
	// dispatchMu serializes consumers and teardown.
	dispatchMu sync.Mutex
	buf        []byte

	registry *Registry
	backend  backend
	launcher Launcher
	logger   *logging.Logger

	strategy     Strategy
	interval     time.Duration
	chunkSize    int
	parser       argv.Parser
	maxProcesses int

	spawnMu sync.Mutex
	closed  atomic.Bool
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithStrategy selects the readiness strategy.
func WithStrategy(s Strategy) Option {
	return func(r *Reactor) { r.strategy = s }
}

// WithInterval sets the tick for Run and the poll strategy.
func WithInterval(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithChunkSize sets the maximum size of a delivered chunk.
func WithChunkSize(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithMaxProcesses limits the number of live children; 0 is unlimited.
func WithMaxProcesses(n int) Option {
	return func(r *Reactor) { r.maxProcesses = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithParser selects how SpawnString splits command lines.
func WithParser(p argv.Parser) Option {
	return func(r *Reactor) { r.parser = p }
}

// WithLauncher replaces the launcher.
func WithLauncher(l Launcher) Option {
	return func(r *Reactor) {
		if l != nil {
			r.launcher = l
		}
	}
}

// New creates a reactor.
func New(opts ...Option) (*Reactor, error) {
	r := &Reactor{
		registry:  NewRegistry(),
		launcher:  DefaultLauncher(),
		logger:    logging.NullLogger,
		interval:  DefaultInterval,
		chunkSize: DefaultChunkSize,
		parser:    argv.ParserSimple,
	}
	for _, opt := range opts {
		opt(r)
	}
	b, strategy, err := newBackend(r.strategy, r.registry)
	if err != nil {
		return nil, err
	}
	r.backend = b
	r.strategy = strategy
	r.buf = make([]byte, r.chunkSize)
	r.logger = r.logger.WithComponent("reactor")
	r.logger.Debug("using %s strategy", strategy)
	return r, nil
}

// Strategy returns the strategy in use; never StrategyAuto.
func (r *Reactor) Strategy() Strategy { return r.strategy }

// Interval returns the configured tick.
func (r *Reactor) Interval() time.Duration { return r.interval }

// Live returns the number of live children.
func (r *Reactor) Live() int { return r.registry.Len() }

// Handles returns the live handles.
func (r *Reactor) Handles() []*Handle { return r.registry.Snapshot() }

// SpawnString splits command with the configured parser and spawns it.
func (r *Reactor) SpawnString(command string, opts SpawnOptions) (*Handle, error) {
	cmd, err := argv.FromString(command, r.parser)
	if err != nil {
		return nil, err
	}
	return r.spawn(cmd, opts)
}

// Spawn starts args[0] with the given arguments.
func (r *Reactor) Spawn(args []string, opts SpawnOptions) (*Handle, error) {
	cmd, err := argv.FromList(args)
	if err != nil {
		return nil, err
	}
	return r.spawn(cmd, opts)
}

func (r *Reactor) spawn(cmd *argv.Command, opts SpawnOptions) (*Handle, error) {
	program := cmd.Program()
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()

	if r.closed.Load() {
		return nil, &SpawnError{Program: program, Op: "spawn", Err: ErrReactorClosed}
	}
	if r.maxProcesses > 0 && r.registry.Len() >= r.maxProcesses {
		return nil, &SpawnError{Program: program, Op: "spawn", Err: ErrProcessLimit}
	}

	path, err := cmd.Resolve(opts.Dir)
	if err != nil {
		return nil, &SpawnError{Program: program, Op: "resolve", Err: err}
	}
	child, err := r.launcher.Launch(LaunchParams{
		Path: path,
		Args: cmd.Args,
		Dir:  opts.Dir,
		Env:  opts.Env,
	})
	if err != nil {
		var se *SpawnError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &SpawnError{Program: program, Op: "launch", Err: err}
	}

	sys, err := openSysProc(child.Process)
	if err != nil {
		_ = child.Process.Kill()
		_, _ = child.Process.Wait()
		for _, f := range []*os.File{child.Stdin, child.Stdout, child.Stderr} {
			_ = f.Close()
		}
		return nil, &SpawnError{Program: program, Op: "open", Err: err}
	}
	h := newHandle(r, cmd.Args, child, sys, opts)

	r.registry.Add(h)
	if err := r.backend.add(h); err != nil {
		r.registry.Remove(h)
		h.abort()
		return nil, &SpawnError{Program: program, Op: "watch", Err: err}
	}

	r.logger.WithFields(map[string]interface{}{
		"pid": child.PID,
		"id":  h.id,
	}).Debug("spawned %s", cmd)

	if len(opts.Input) > 0 {
		if err := h.Write(opts.Input); err != nil {
			r.logger.WithField("pid", child.PID).Warn("initial input: %v", err)
		}
	}
	return h, nil
}

// abort kills and reaps a child that never became visible to the backend.
func (h *Handle) abort() {
	h.tearing.Store(true)
	h.mu.Lock()
	_ = h.sys.kill(h.PID())
	h.mu.Unlock()
	_, _, _ = h.reapBlocking()
	h.release()
	h.state.Store(int32(StateTerminated))
	close(h.done)
}

// Step waits up to timeout for readiness and dispatches what it finds:
// output first, then exits. It returns the number of events handled.
// A negative timeout waits indefinitely.
func (r *Reactor) Step(timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, ErrReactorClosed
	}
	events, err := r.backend.wait(timeout)
	if err != nil {
		if r.closed.Load() {
			return 0, ErrReactorClosed
		}
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for _, ev := range events {
		if ev.kind != evExit {
			r.dispatch(ev)
		}
	}
	for _, ev := range events {
		if ev.kind == evExit {
			r.dispatch(ev)
		}
	}
	return len(events), nil
}

// Run drives the reactor until ctx is done or the reactor is closed.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Step(r.interval); err != nil {
			if err == ErrReactorClosed {
				return nil
			}
			return err
		}
	}
}

// RunUntilIdle drives the reactor until no children are live.
func (r *Reactor) RunUntilIdle(ctx context.Context) error {
	for r.Live() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Step(r.interval); err != nil {
			return err
		}
	}
	return nil
}

// KillAll kills every live child.
func (r *Reactor) KillAll() error {
	var first error
	for _, h := range r.registry.Snapshot() {
		if err := h.Kill(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close kills every live child, waits for each teardown and releases the
// backend. Spawn fails afterwards.
func (r *Reactor) Close() error {
	r.spawnMu.Lock()
	already := r.closed.Swap(true)
	r.spawnMu.Unlock()
	if already {
		return nil
	}

	live := r.registry.Snapshot()
	for _, h := range live {
		_ = h.Kill()
	}
	for _, h := range live {
		if err := h.join(); err != nil {
			r.logger.WithField("id", h.id).Warn("close: %v", err)
		}
	}
	if n := len(live); n > 0 {
		r.logger.Debug("closed with %d live processes", n)
	}
	if err := r.backend.close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}
