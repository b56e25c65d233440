//go:build unix

package lua

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
)

func strategyOptions(t *testing.T) map[string][]StateOption {
	t.Helper()
	out := map[string][]StateOption{
		"poll": {WithReactorOptions(process.WithStrategy(process.StrategyPoll), process.WithInterval(5*time.Millisecond))},
	}
	if r, err := process.New(process.WithStrategy(process.StrategyEvent)); err == nil {
		_ = r.Close()
		out["event"] = []StateOption{WithReactorOptions(process.WithStrategy(process.StrategyEvent), process.WithInterval(5*time.Millisecond))}
	}
	return out
}

// runScript runs code with the spawn module under every available strategy.
func runScript(t *testing.T, code string, check func(t *testing.T, s *State)) {
	for name, opts := range strategyOptions(t) {
		t.Run(name, func(t *testing.T) {
			s := newState(t, append(opts, WithCapabilities(CapabilityProcess))...)
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if err := s.DoString(ctx, code); err != nil {
				t.Fatalf("script error: %v", err)
			}
			if err := s.RunUntilIdle(ctx); err != nil {
				t.Fatalf("RunUntilIdle: %v", err)
			}
			check(t, s)
		})
	}
}

func global(s *State, name string) string {
	return s.GetGlobal(name).String()
}

func TestSpawnHello(t *testing.T) {
	runScript(t, `
		local out = {}
		local p = spawn.spawn("echo hello", nil,
			function(s) out[#out + 1] = s end, nil,
			function(status) code = spawn.exit_code(status) end)
		before = p:status()
		spawn.run()
		after = p:status()
		output = table.concat(out)
		pid_after = p:pid()
		text = tostring(p)
	`, func(t *testing.T, s *State) {
		if got := global(s, "output"); got != "hello\n" {
			t.Errorf("output = %q", got)
		}
		if got := global(s, "code"); got != "0" {
			t.Errorf("exit code = %s", got)
		}
		if global(s, "before") != "running" || global(s, "after") != "terminated" {
			t.Errorf("status before/after = %s/%s", global(s, "before"), global(s, "after"))
		}
		if s.GetGlobal("pid_after") != glua.LNil {
			t.Error("pid should be nil after termination")
		}
		if got := global(s, "text"); got != "process (terminated)" {
			t.Errorf("tostring = %q", got)
		}
	})
}

func TestSpawnWriteAfterExit(t *testing.T) {
	runScript(t, `
		local p = spawn.spawn({"true"}, nil, nil, nil, nil)
		p:wait()
		ok, err = pcall(function() p:write("late") end)
		close_ok = p:close()
		kill_ok = p:kill()
		wait_ok = pcall(function() p:wait() end)
	`, func(t *testing.T, s *State) {
		if s.GetGlobal("ok") != glua.LFalse {
			t.Error("write after exit should raise")
		}
		if !strings.Contains(global(s, "err"), "process finished") {
			t.Errorf("error = %q", global(s, "err"))
		}
		if s.GetGlobal("close_ok") != glua.LTrue || s.GetGlobal("kill_ok") != glua.LTrue {
			t.Error("close and kill after exit should succeed")
		}
		if s.GetGlobal("wait_ok") != glua.LFalse {
			t.Error("second wait should raise")
		}
	})
}

func TestSpawnWriteAndKill(t *testing.T) {
	runScript(t, `
		local out = {}
		local p = spawn.spawn("cat", nil, function(s) out[#out + 1] = s end, nil,
			function(status) killed = spawn.signaled(status); code = spawn.exit_code(status) end)
		p:write("abc", "def\n")
		while table.concat(out) ~= "abcdef\n" do spawn.update(10) end
		echoed = table.concat(out)
		p:kill()
		status = p:wait()
	`, func(t *testing.T, s *State) {
		if got := global(s, "echoed"); got != "abcdef\n" {
			t.Errorf("echoed = %q", got)
		}
		if s.GetGlobal("killed") != glua.LTrue {
			t.Error("exit status should report a signal")
		}
		if s.GetGlobal("code") != glua.LNil {
			t.Errorf("exit_code of a killed process = %v", s.GetGlobal("code"))
		}
	})
}

func TestSpawnReadModes(t *testing.T) {
	runScript(t, `
		local p = spawn.spawn({"printf", "one\ntwo\nthree"})
		l1 = p:read()
		l2 = p:read("*L")
		n = p:read(2)
		rest = p:read("a")
		eof = p:read("l")
	`, func(t *testing.T, s *State) {
		want := map[string]string{"l1": "one", "l2": "two\n", "n": "th", "rest": "ree"}
		for k, v := range want {
			if got := global(s, k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		if s.GetGlobal("eof") != glua.LNil {
			t.Errorf("read at end = %v", s.GetGlobal("eof"))
		}
	})
}

func TestSpawnReadPushMode(t *testing.T) {
	runScript(t, `
		local p = spawn.spawn("true", nil, function() end)
		ok = pcall(function() p:read() end)
	`, func(t *testing.T, s *State) {
		if s.GetGlobal("ok") != glua.LFalse {
			t.Error("read with an output callback should raise")
		}
	})
}

func TestSpawnMissingProgram(t *testing.T) {
	runScript(t, `
		p, code, err = spawn.spawn("lspawn-definitely-missing")
	`, func(t *testing.T, s *State) {
		if s.GetGlobal("p") != glua.LNil {
			t.Error("spawn of a missing program should return nil")
		}
		if _, ok := s.GetGlobal("code").(glua.LNumber); !ok {
			t.Errorf("code = %v, want a number", s.GetGlobal("code"))
		}
		if !strings.Contains(global(s, "err"), "lspawn-definitely-missing") {
			t.Errorf("err = %q", global(s, "err"))
		}
	})
}

func TestSpawnEnvCwdInput(t *testing.T) {
	dir := t.TempDir()
	runScript(t, `
		local out = {}
		local p = spawn.spawn({"sh", "-c", "echo $GREETING; pwd; cat"}, "`+dir+`",
			function(s) out[#out + 1] = s end, nil, nil,
			{"PATH=/usr/bin:/bin", GREETING = "hi"}, "from stdin")
		p:close()
		spawn.run()
		output = table.concat(out)
	`, func(t *testing.T, s *State) {
		lines := strings.SplitN(global(s, "output"), "\n", 3)
		if len(lines) != 3 || lines[0] != "hi" || !strings.HasSuffix(lines[1], dirBase(dir)) {
			t.Errorf("output = %q", global(s, "output"))
		}
	})
}

func TestSpawnWaitInCallback(t *testing.T) {
	runScript(t, `
		local p
		p = spawn.spawn("echo x", nil, function()
			ok, err = pcall(function() p:wait() end)
		end)
		spawn.run()
	`, func(t *testing.T, s *State) {
		if s.GetGlobal("ok") != glua.LFalse {
			t.Error("wait inside a callback should raise")
		}
		if !strings.Contains(global(s, "err"), "callback") {
			t.Errorf("err = %q", global(s, "err"))
		}
	})
}

func TestSpawnCallbackError(t *testing.T) {
	runScript(t, `
		spawn.spawn("echo x", nil, function() error("boom") end, nil,
			function() exited = true end)
		spawn.run()
	`, func(t *testing.T, s *State) {
		if s.GetGlobal("exited") != glua.LTrue {
			t.Error("a failing output callback must not stop the exit callback")
		}
	})
}

func TestSpawnRouting(t *testing.T) {
	// Random per-child delays make exits and output arrive out of spawn order.
	delays := make([]string, 50)
	for i := range delays {
		delays[i] = fmt.Sprintf("%q", fmt.Sprintf("0.0%d", rand.Intn(10)))
	}
	runScript(t, `
		local delays = {`+strings.Join(delays, ", ")+`}
		local n = #delays
		local outs, errs, codes = {}, {}, {}
		for i = 1, n do
			outs[i], errs[i] = {}, {}
			local script = "sleep " .. delays[i] .. "; echo out" .. i .. "; echo err" .. i .. " >&2; exit " .. (i % 7)
			spawn.spawn({"sh", "-c", script}, nil,
				function(s) table.insert(outs[i], s) end,
				function(s) table.insert(errs[i], s) end,
				function(status) codes[i] = spawn.exit_code(status) end)
		end
		spawn.run()
		bad = 0
		for i = 1, n do
			if table.concat(outs[i]) ~= "out" .. i .. "\n" then bad = bad + 1 end
			if table.concat(errs[i]) ~= "err" .. i .. "\n" then bad = bad + 1 end
			if codes[i] ~= i % 7 then bad = bad + 1 end
		end
		live = spawn.live()
	`, func(t *testing.T, s *State) {
		if got := global(s, "bad"); got != "0" {
			t.Errorf("%s misrouted deliveries", got)
		}
		if got := global(s, "live"); got != "0" {
			t.Errorf("live = %s", got)
		}
	})
}

func TestSpawnInfo(t *testing.T) {
	runScript(t, `
		local p = spawn.spawn("sleep 30")
		local info = p:info()
		running_pid = info.pid
		first_arg = info.args[1]
		spawn.kill_all()
		p:wait()
		exit_status = p:info().exit_status
	`, func(t *testing.T, s *State) {
		if n, ok := s.GetGlobal("running_pid").(glua.LNumber); !ok || n <= 0 {
			t.Errorf("pid = %v", s.GetGlobal("running_pid"))
		}
		if got := global(s, "first_arg"); got != "sleep" {
			t.Errorf("args[1] = %q", got)
		}
		if s.GetGlobal("exit_status") == glua.LNil {
			t.Error("exit_status missing after wait")
		}
	})
}

func TestSpawnRequiresCapability(t *testing.T) {
	var out bytes.Buffer
	s := newState(t, WithOutput(&out))
	if s.GetGlobal("spawn") != glua.LNil {
		t.Fatal("spawn should not be visible without the capability")
	}
	s.Sandbox().Grant(CapabilityProcess)
	if err := s.DoString(context.Background(), `print(type(require("spawn").spawn))`); err != nil {
		t.Fatal(err)
	}
	if out.String() != "function\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestStateCloseKillsProcesses(t *testing.T) {
	s, err := NewState(WithCapabilities(CapabilityProcess))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DoString(context.Background(), `
		p = spawn.spawn("sleep 30", nil, nil, nil, function(status) died = spawn.signaled(status) end)
	`); err != nil {
		t.Fatal(err)
	}
	r, _ := s.Reactor()
	handles := r.Handles()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	for _, h := range handles {
		if h.State() != process.StateTerminated {
			t.Errorf("%s survived Close", h)
		}
	}
}

func dirBase(dir string) string {
	parts := strings.Split(strings.TrimRight(dir, "/"), "/")
	return parts[len(parts)-1]
}
