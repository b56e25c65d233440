// Package main is the entry point for lspawn, which runs Lua scripts that
// drive child processes, or a single command, through the process reactor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/argv"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/config"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/logging"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/lua"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/sink"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds the command line. Empty strings mean "not given".
type options struct {
	configPath string
	logLevel   string
	strategy   string
	format     string
	encoding   string
	color      string
	command    string
	watch      bool
	script     string
	args       []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := applyFlags(cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog.Close()

	format, err := sink.ParseFormat(cfg.Output.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	out, err := sink.New(sink.Options{
		Format:   format,
		Encoding: cfg.Output.Encoding,
		Color:    cfg.Output.Color,
		Logger:   logger.WithComponent("sink"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.command != "" {
		return runCommand(ctx, cfg, logger, out, opts.command)
	}
	if opts.watch {
		return watchScript(ctx, cfg, logger, out, opts.script, opts.args)
	}
	return runScript(ctx, cfg, logger, out, opts.script, opts.args)
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.strategy, "strategy", "", "Readiness strategy (auto, event, poll)")
	flag.StringVar(&opts.format, "format", "", "Output format (text, json)")
	flag.StringVar(&opts.encoding, "encoding", "", "Charset of child output (e.g. utf-8, windows-1252)")
	flag.StringVar(&opts.color, "color", "", "Color stderr output (auto, always, never)")
	flag.StringVar(&opts.command, "e", "", "Run a single command instead of a script")
	flag.BoolVar(&opts.watch, "watch", false, "Re-run the script whenever it changes")
	flag.BoolVar(&opts.watch, "w", false, "Re-run the script whenever it changes (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lspawn - run and drive child processes from Lua\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lspawn [options] script.lua [args...]\n")
		fmt.Fprintf(os.Stderr, "       lspawn [options] -e \"command\"\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lspawn build.lua                 Run a script\n")
		fmt.Fprintf(os.Stderr, "  lspawn -w build.lua              Re-run on every save\n")
		fmt.Fprintf(os.Stderr, "  lspawn -format json -e \"make\"    Stream one command as JSON events\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("lspawn %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.logLevel != "" && !logging.ValidLevel(opts.logLevel) {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	rest := flag.Args()
	switch {
	case opts.command != "" && len(rest) > 0:
		fmt.Fprintf(os.Stderr, "Error: -e and a script are mutually exclusive\n")
		os.Exit(2)
	case opts.command != "" && opts.watch:
		fmt.Fprintf(os.Stderr, "Error: -watch needs a script\n")
		os.Exit(2)
	case opts.command == "" && len(rest) == 0:
		flag.Usage()
		os.Exit(2)
	case len(rest) > 0:
		opts.script, opts.args = rest[0], rest[1:]
	}
	return opts
}

// applyFlags overlays flags given on the command line and revalidates.
func applyFlags(cfg *config.Config, opts options) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Logging.Level, opts.logLevel)
	set(&cfg.Reactor.Strategy, opts.strategy)
	set(&cfg.Output.Format, opts.format)
	set(&cfg.Output.Encoding, opts.encoding)
	set(&cfg.Output.Color, opts.color)
	return cfg.Validate()
}

func newLogger(cfg *config.Config) (*logging.Logger, io.Closer, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.File != "" {
		return logging.OpenFile(cfg.Logging.File, level)
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	return logging.New(lc), io.NopCloser(nil), nil
}

// runCommand runs one command to completion and returns its exit code.
func runCommand(ctx context.Context, cfg *config.Config, logger *logging.Logger, out *sink.Sink, command string) int {
	ropts, err := cfg.ReactorOptions(logger.WithComponent("reactor"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	r, err := process.New(ropts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer r.Close()

	parser, _ := argv.ParseParser(cfg.Reactor.Parser)
	cmd, err := argv.FromString(command, parser)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := out.Track(cmd.Args)
	h, err := r.Spawn(cmd.Args, p.Options(process.SpawnOptions{}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 127
	}
	p.Bind(h)

	if err := r.RunUntilIdle(ctx); err != nil {
		logger.Info("interrupted: %v", err)
		_ = h.Kill()
		_ = h.Wait()
	}

	status, _ := h.ExitStatus()
	return exitCode(status)
}

// exitCode maps a raw status to a shell-style exit code.
func exitCode(status int) int {
	if code, ok := process.ExitCode(status); ok {
		return code
	}
	if process.Signaled(status) {
		return 128 + status&0x7f
	}
	return 1
}

// runScript runs a script and pumps its processes until none is left.
func runScript(ctx context.Context, cfg *config.Config, logger *logging.Logger, out *sink.Sink, script string, args []string) int {
	caps, err := capabilities(cfg.Lua.Capabilities)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ropts, err := cfg.ReactorOptions(logger.WithComponent("reactor"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	state, err := lua.NewState(
		lua.WithCapabilities(caps...),
		lua.WithOutput(out.Writer()),
		lua.WithLogger(logger.WithComponent("lua")),
		lua.WithExecutionTimeout(cfg.Lua.Timeout),
		lua.WithReactorOptions(ropts...),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer state.Close()

	argTable := state.L.NewTable()
	argTable.RawSetInt(0, glua.LString(script))
	for i, a := range args {
		argTable.RawSetInt(i+1, glua.LString(a))
	}
	state.SetGlobal("arg", argTable)

	start := time.Now()
	if err := state.DoFile(ctx, script); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := state.RunUntilIdle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger.Debug("%s finished in %v", script, time.Since(start))
	return 0
}

// watchScript runs the script, then again after every change to it, until
// interrupted.
func watchScript(ctx context.Context, cfg *config.Config, logger *logging.Logger, out *sink.Sink, script string, args []string) int {
	w, err := watch.New(watch.WithLogger(logger.WithComponent("watch")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer w.Close()
	if err := w.Watch(script); err != nil {
		fmt.Fprintf(os.Stderr, "Error: watch %s: %v\n", script, err)
		return 1
	}

	code := runScript(ctx, cfg, logger, out, script, args)
	for {
		select {
		case <-ctx.Done():
			return code
		case err, ok := <-w.Errors():
			if !ok {
				return code
			}
			logger.Warn("watch: %v", err)
		case ev, ok := <-w.Events():
			if !ok {
				return code
			}
			if ev.Op&(watch.OpRemove|watch.OpRename) != 0 && ev.Op&(watch.OpCreate|watch.OpWrite) == 0 {
				logger.Info("%s was removed; waiting for it to return", script)
				continue
			}
			logger.Info("%s changed (%v), re-running", script, ev.Op)
			code = runScript(ctx, cfg, logger, out, script, args)
		}
	}
}

func capabilities(names []string) ([]lua.Capability, error) {
	caps := make([]lua.Capability, 0, len(names))
	for _, n := range names {
		c, ok := lua.ParseCapability(n)
		if !ok {
			return nil, fmt.Errorf("unknown Lua capability %q", n)
		}
		caps = append(caps, c)
	}
	return caps, nil
}
