// Package lua hosts Lua scripts that drive child processes.
//
// The package wraps gopher-lua with a sandbox and exposes the process
// reactor as the "spawn" module:
//
//	local p = spawn.spawn("make -k", "/src",
//	    function(out) io_write(out) end,      -- stdout chunks
//	    function(err) io_write(err) end,      -- stderr chunks
//	    function(status) print("exit", spawn.exit_code(status)) end)
//	p:write("input\n")
//	p:close()
//	spawn.run()
//
// # State
//
// A State is confined to one goroutine. Callbacks bound at spawn time run
// on that goroutine whenever the reactor is stepped: from spawn.update or
// spawn.run inside a script, from Handle waits, or from the host calling
// Pump between scripts.
//
//	state, err := lua.NewState(
//	    lua.WithCapabilities(lua.CapabilityProcess),
//	    lua.WithOutput(os.Stdout),
//	)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//	if err := state.DoFile(ctx, "build.lua"); err != nil {
//	    return err
//	}
//	return state.RunUntilIdle(ctx)
//
// # Process objects
//
// spawn.spawn returns a process userdata with the methods status, pid,
// write, read, close, kill, wait and info. Writing to a finished process
// and calling wait from inside a callback raise Lua errors; I/O failures
// and spawn failures are returned as nil, code, message.
//
// # Capabilities
//
// Scripts only see what they are granted:
//   - CapabilityProcess: the spawn module
//   - CapabilityShell: os.getenv, os.time, os.clock
//   - CapabilityUnsafe: the full io, os and debug libraries
package lua
