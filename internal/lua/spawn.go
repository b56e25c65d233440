package lua

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
)

const procTypeName = "spawn.proc"

// spawnModule exposes the reactor to Lua. Callbacks run on the state's
// main LState.
type spawnModule struct {
	state *State
	// inCallback counts nested callback invocations. wait, update and run
	// would deadlock on the dispatch lock when called from a callback.
	inCallback int
}

func (m *spawnModule) install(L *lua.LState) {
	mt := L.NewTypeMetatable(procTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"status": m.procStatus,
		"pid":    m.procPID,
		"write":  m.procWrite,
		"read":   m.procRead,
		"close":  m.procClose,
		"kill":   m.procKill,
		"wait":   m.procWait,
		"info":   m.procInfo,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(m.procString))

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"spawn":     m.spawn,
		"update":    m.update,
		"run":       m.run,
		"live":      m.live,
		"kill_all":  m.killAll,
		"exit_code": m.exitCode,
		"signaled":  m.signaled,
	})
	L.SetGlobal("spawn", mod)
}

// spawn(command, cwd, on_output, on_error, on_exit, env, input)
//
// command is a string split by the reactor's parser or a table of
// arguments. Returns a process object, or nil and an error message.
func (m *spawnModule) spawn(L *lua.LState) int {
	bridge := NewBridge(L)

	var (
		args    []string
		command string
	)
	switch v := L.CheckAny(1).(type) {
	case lua.LString:
		command = string(v)
	case *lua.LTable:
		list, err := bridge.StringList(v)
		if err != nil {
			L.ArgError(1, err.Error())
		}
		args = list
	default:
		L.ArgError(1, "string or table expected")
	}

	opts := process.SpawnOptions{Dir: L.OptString(2, "")}
	if fn := L.OptFunction(3, nil); fn != nil {
		opts.OnOutput = m.outputCallback(fn)
	}
	if fn := L.OptFunction(4, nil); fn != nil {
		opts.OnError = m.outputCallback(fn)
	}
	if fn := L.OptFunction(5, nil); fn != nil {
		opts.OnExit = m.exitCallback(fn)
	}
	if t := L.OptTable(6, nil); t != nil {
		env, err := bridge.Environ(t)
		if err != nil {
			L.ArgError(6, err.Error())
		}
		opts.Env = env
	}
	if input := L.OptString(7, ""); input != "" {
		opts.Input = []byte(input)
	}

	r, err := m.state.Reactor()
	if err != nil {
		return pushFailure(L, err)
	}
	var h *process.Handle
	if args != nil {
		h, err = r.Spawn(args, opts)
	} else {
		h, err = r.SpawnString(command, opts)
	}
	if err != nil {
		return pushFailure(L, err)
	}

	ud := L.NewUserData()
	ud.Value = h
	L.SetMetatable(ud, L.GetTypeMetatable(procTypeName))
	L.Push(ud)
	return 1
}

func (m *spawnModule) call(fn *lua.LFunction, arg lua.LValue) error {
	m.inCallback++
	defer func() { m.inCallback-- }()
	return m.state.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, arg)
}

func (m *spawnModule) outputCallback(fn *lua.LFunction) process.OutputFunc {
	return func(chunk []byte) error {
		return m.call(fn, lua.LString(chunk))
	}
}

func (m *spawnModule) exitCallback(fn *lua.LFunction) process.ExitFunc {
	return func(status int) error {
		return m.call(fn, lua.LNumber(status))
	}
}

func (m *spawnModule) forbidInCallback(L *lua.LState, what string) {
	if m.inCallback > 0 {
		L.RaiseError("%s cannot be called from a spawn callback", what)
	}
}

func checkProc(L *lua.LState) *process.Handle {
	ud := L.CheckUserData(1)
	h, ok := ud.Value.(*process.Handle)
	if !ok {
		L.ArgError(1, "process expected")
	}
	return h
}

// pushFailure pushes nil, an error code and the message. The code is the
// OS error number when one is wrapped, otherwise -1.
func pushFailure(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LNumber(errorCode(err)))
	L.Push(lua.LString(err.Error()))
	return 3
}

func errorCode(err error) int {
	var ioErr *process.IOError
	if errors.As(err, &ioErr) && ioErr.Code != 0 {
		return ioErr.Code
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}

func (m *spawnModule) procStatus(L *lua.LState) int {
	L.Push(lua.LString(checkProc(L).Status()))
	return 1
}

func (m *spawnModule) procPID(L *lua.LState) int {
	if pid := checkProc(L).PID(); pid > 0 {
		L.Push(lua.LNumber(pid))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// p:write(...) sends each string argument to stdin.
func (m *spawnModule) procWrite(L *lua.LState) int {
	h := checkProc(L)
	chunks := make([][]byte, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		chunks = append(chunks, []byte(L.CheckString(i)))
	}
	err := h.Write(chunks...)
	if errors.Is(err, process.ErrInvalidState) {
		L.RaiseError("process finished")
	}
	if err != nil {
		return pushFailure(L, err)
	}
	L.Push(L.Get(1))
	return 1
}

// p:read([mode]) reads stdout of a process spawned without on_output.
// mode is "l", "L", "a" (with or without '*') or a byte count.
func (m *spawnModule) procRead(L *lua.LState) int {
	h := checkProc(L)
	mode := process.LineMode
	switch v := L.Get(2).(type) {
	case lua.LNumber:
		if v < 0 {
			L.ArgError(2, "non-negative count expected")
		}
		mode = process.ReadN(int(v))
	case lua.LString:
		parsed, err := process.ParseReadMode(string(v))
		if err != nil {
			L.ArgError(2, err.Error())
		}
		mode = parsed
	case *lua.LNilType:
	default:
		L.ArgError(2, "read mode expected")
	}

	data, err := h.Read(mode)
	switch {
	case err == io.EOF:
		L.Push(lua.LNil)
		return 1
	case errors.Is(err, process.ErrPushMode):
		L.RaiseError("stdout is delivered to a callback")
	case err != nil:
		return pushFailure(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

func (m *spawnModule) procClose(L *lua.LState) int {
	if err := checkProc(L).Close(); err != nil {
		return pushFailure(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (m *spawnModule) procKill(L *lua.LState) int {
	if err := checkProc(L).Kill(); err != nil {
		return pushFailure(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// p:wait() blocks until the process exits and returns the raw status.
func (m *spawnModule) procWait(L *lua.LState) int {
	h := checkProc(L)
	m.forbidInCallback(L, "wait")
	err := h.Wait()
	if errors.Is(err, process.ErrInvalidState) {
		L.RaiseError("process finished")
	}
	if err != nil {
		return pushFailure(L, err)
	}
	status, _ := h.ExitStatus()
	L.Push(lua.LNumber(status))
	return 1
}

func (m *spawnModule) procInfo(L *lua.LState) int {
	h := checkProc(L)
	info := map[string]any{
		"id":      h.ID(),
		"args":    h.Args(),
		"status":  h.Status(),
		"started": h.Started().Unix(),
	}
	if pid := h.PID(); pid > 0 {
		info["pid"] = pid
	}
	if status, ok := h.ExitStatus(); ok {
		info["exit_status"] = status
	}
	L.Push(NewBridge(L).ToLuaValue(info))
	return 1
}

func (m *spawnModule) procString(L *lua.LState) int {
	h := checkProc(L)
	if pid := h.PID(); pid > 0 {
		L.Push(lua.LString(fmt.Sprintf("process (pid %d)", pid)))
	} else {
		L.Push(lua.LString("process (terminated)"))
	}
	return 1
}

// spawn.update([timeout_ms]) dispatches pending output and exits.
func (m *spawnModule) update(L *lua.LState) int {
	m.forbidInCallback(L, "update")
	timeout := time.Duration(L.OptInt(1, 0)) * time.Millisecond
	if m.state.reactor == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	n, err := m.state.reactor.Step(timeout)
	if err != nil {
		L.RaiseError("update: %v", err)
	}
	L.Push(lua.LNumber(n))
	return 1
}

// spawn.run() dispatches until every spawned process has finished.
func (m *spawnModule) run(L *lua.LState) int {
	m.forbidInCallback(L, "run")
	r := m.state.reactor
	if r == nil {
		return 0
	}
	for r.Live() > 0 {
		if ctx := L.Context(); ctx != nil && ctx.Err() != nil {
			L.RaiseError("run: %v", ctx.Err())
		}
		if _, err := r.Step(r.Interval()); err != nil {
			L.RaiseError("run: %v", err)
		}
	}
	return 0
}

func (m *spawnModule) live(L *lua.LState) int {
	n := 0
	if m.state.reactor != nil {
		n = m.state.reactor.Live()
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (m *spawnModule) killAll(L *lua.LState) int {
	if m.state.reactor != nil {
		if err := m.state.reactor.KillAll(); err != nil {
			return pushFailure(L, err)
		}
	}
	L.Push(lua.LTrue)
	return 1
}

// spawn.exit_code(status) returns the exit code, or nil when the process
// was killed by a signal.
func (m *spawnModule) exitCode(L *lua.LState) int {
	code, ok := process.ExitCode(L.CheckInt(1))
	if !ok {
		L.Push(lua.LNil)
	} else {
		L.Push(lua.LNumber(code))
	}
	return 1
}

func (m *spawnModule) signaled(L *lua.LState) int {
	L.Push(lua.LBool(process.Signaled(L.CheckInt(1))))
	return 1
}
