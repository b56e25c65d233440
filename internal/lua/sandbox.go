package lua

import (
	"io"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	output  io.Writer
	started time.Time

	capabilities map[Capability]bool
	providers    map[Capability]func(*lua.LState)
	modules      map[string]Capability
}

// Capability represents a permission that can be granted to scripts.
type Capability string

// Available capabilities.
const (
	CapabilityProcess Capability = "process.spawn"
	CapabilityShell   Capability = "shell"
	CapabilityUnsafe  Capability = "unsafe" // Full Lua stdlib access
)

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, bool) {
	switch c := Capability(strings.TrimSpace(s)); c {
	case CapabilityProcess, CapabilityShell, CapabilityUnsafe:
		return c, true
	}
	return "", false
}

// NewSandbox creates a new sandbox for the Lua state. print writes to out.
func NewSandbox(L *lua.LState, out io.Writer) *Sandbox {
	if out == nil {
		out = io.Discard
	}
	return &Sandbox{
		L:            L,
		output:       out,
		started:      time.Now(),
		capabilities: make(map[Capability]bool),
		providers:    make(map[Capability]func(*lua.LState)),
		modules:      map[string]Capability{"spawn": CapabilityProcess},
	}
}

// Provide registers the installer run when cap is granted.
func (s *Sandbox) Provide(cap Capability, install func(*lua.LState)) {
	s.providers[cap] = install
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installSafeRequire()
}

// installPrint replaces print with one that writes to the sandbox output.
func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		var b strings.Builder
		for i := 1; i <= L.GetTop(); i++ {
			if i > 1 {
				b.WriteByte('\t')
			}
			b.WriteString(L.ToStringMeta(L.Get(i)).String())
		}
		b.WriteByte('\n')
		_, _ = io.WriteString(s.output, b.String())
		return 0
	}))
}

// installSafeRequire clears package.path/cpath and replaces require with
// one that only resolves built-in and capability-gated modules.
func (s *Sandbox) installSafeRequire() {
	if pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string":    true,
		"table":     true,
		"math":      true,
		"coroutine": true,
	}
	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		allowed := safeModules[modName]
		if cap, gated := s.modules[modName]; gated {
			if !s.capabilities[cap] {
				L.RaiseError("module %q requires %s capability", modName, cap)
			}
			allowed = true
		}
		switch modName {
		case "os":
			allowed = s.capabilities[CapabilityShell] || s.capabilities[CapabilityUnsafe]
		case "io", "debug":
			allowed = s.capabilities[CapabilityUnsafe]
		}
		if !allowed {
			L.RaiseError("module %q is not available", modName)
		}

		if g := L.GetGlobal(modName); g != lua.LNil {
			L.Push(g)
			return 1
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// Grant enables a capability and installs the API it guards.
func (s *Sandbox) Grant(cap Capability) {
	if s.capabilities[cap] {
		return
	}
	s.capabilities[cap] = true

	switch cap {
	case CapabilityShell:
		s.injectShellAPI()
	case CapabilityUnsafe:
		s.injectUnsafeLibraries()
	}
	if install := s.providers[cap]; install != nil {
		install(s.L)
	}
}

// Revoke disables a capability. APIs already installed stay visible.
func (s *Sandbox) Revoke(cap Capability) {
	delete(s.capabilities, cap)
}

// HasCapability returns true if the capability is granted.
func (s *Sandbox) HasCapability(cap Capability) bool {
	return s.capabilities[cap]
}

// Capabilities returns all granted capabilities.
func (s *Sandbox) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.capabilities))
	for cap, granted := range s.capabilities {
		if granted {
			caps = append(caps, cap)
		}
	}
	return caps
}

// CheckCapability returns an error if the capability is not granted.
func (s *Sandbox) CheckCapability(cap Capability) error {
	if !s.capabilities[cap] {
		return &CapabilityError{Capability: cap}
	}
	return nil
}

// injectShellAPI adds a restricted os table.
func (s *Sandbox) injectShellAPI() {
	osMod := s.L.NewTable()

	s.L.SetField(osMod, "execute", s.L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("os.execute is not available; use spawn.spawn() instead")
		return 0
	}))

	s.L.SetField(osMod, "getenv", s.L.NewFunction(func(L *lua.LState) int {
		value, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(value))
		}
		return 1
	}))

	s.L.SetField(osMod, "time", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))

	s.L.SetField(osMod, "clock", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(s.started).Seconds()))
		return 1
	}))

	s.L.SetGlobal("os", osMod)
}

// injectUnsafeLibraries opens the io, os and debug libraries.
// This should only be used for trusted scripts.
func (s *Sandbox) injectUnsafeLibraries() {
	lua.OpenIo(s.L)
	lua.OpenOs(s.L)
	lua.OpenDebug(s.L)
}
