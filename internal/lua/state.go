package lua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/logging"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
)

// State wraps gopher-lua with a sandbox and a process reactor.
//
// gopher-lua's LState is not goroutine-safe. All methods must be called
// from the goroutine that owns the state; the mutex only guards against
// accidental concurrent use from Go.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	capabilities     []Capability
	output           io.Writer
	logger           *logging.Logger

	sandbox *Sandbox
	spawn   *spawnModule

	reactor    *process.Reactor
	ownReactor bool
	reactorOpt []process.Option

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout bounds each DoFile and DoString call. Zero means no
// limit.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithCapabilities grants capabilities at creation.
func WithCapabilities(caps ...Capability) StateOption {
	return func(s *State) {
		s.capabilities = append(s.capabilities, caps...)
	}
}

// WithOutput redirects print. The default is os.Stdout.
func WithOutput(w io.Writer) StateOption {
	return func(s *State) {
		if w != nil {
			s.output = w
		}
	}
}

// WithLogger sets the logger used for callback failures.
func WithLogger(l *logging.Logger) StateOption {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReactor uses r for spawned processes. The state does not close it.
func WithReactor(r *process.Reactor) StateOption {
	return func(s *State) {
		s.reactor = r
	}
}

// WithReactorOptions configures the reactor the state creates when none is
// supplied.
func WithReactorOptions(opts ...process.Option) StateOption {
	return func(s *State) {
		s.reactorOpt = append(s.reactorOpt, opts...)
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		output: os.Stdout,
		logger: logging.NullLogger,
	}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	state.L = L
	openSafeLibraries(L)

	state.spawn = &spawnModule{state: state}
	state.sandbox = NewSandbox(L, state.output)
	state.sandbox.Provide(CapabilityProcess, state.spawn.install)
	state.sandbox.Install()

	for _, c := range state.capabilities {
		state.sandbox.Grant(c)
	}
	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
}

// Reactor returns the reactor behind the spawn module, creating it on
// first use.
func (s *State) Reactor() (*process.Reactor, error) {
	if s.reactor != nil {
		return s.reactor, nil
	}
	opts := append([]process.Option{process.WithLogger(s.logger)}, s.reactorOpt...)
	r, err := process.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}
	s.reactor = r
	s.ownReactor = true
	return r, nil
}

// DoFile executes a Lua file.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.run(ctx, func() error { return s.L.DoFile(path) })
}

// DoString executes a Lua chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.run(ctx, func() error { return s.L.DoString(code) })
}

func (s *State) run(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	if s.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.executionTimeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := s.doWithRecovery(fn)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	}
	return err
}

// doWithRecovery executes a function with panic recovery.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Call calls a global Lua function with the given arguments.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
	}

	stackTop := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}
	if err := s.doWithRecovery(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	}); err != nil {
		return nil, err
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// Pump steps the reactor once, running any callbacks that are due. It is
// how a host keeps callbacks flowing between script calls.
func (s *State) Pump(timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStateClosed
	}
	if s.reactor == nil {
		return 0, nil
	}
	return s.reactor.Step(timeout)
}

// RunUntilIdle pumps until no spawned process is left.
func (s *State) RunUntilIdle(ctx context.Context) error {
	if s.reactor == nil {
		return nil
	}
	for s.reactor.Live() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Pump(s.reactor.Interval()); err != nil {
			return err
		}
	}
	return nil
}

// Sandbox returns the sandbox for capability management.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close kills processes the state started through its own reactor, then
// releases the Lua state.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	var err error
	if s.ownReactor && s.reactor != nil {
		err = s.reactor.Close()
	}
	s.L.Close()
	s.closed = true
	return err
}
