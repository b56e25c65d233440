// Package sink renders child process output for the lspawn command, as
// plain text or as newline-delimited JSON events.
package sink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/sjson"
	"golang.org/x/term"
	"golang.org/x/text/encoding"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/logging"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
)

// Format selects the rendering.
type Format int

const (
	// FormatText copies output to stdout and stderr.
	FormatText Format = iota
	// FormatJSON writes one JSON object per event to stdout.
	FormatJSON
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("unknown output format %q", s)
}

// Options configures a Sink.
type Options struct {
	Format Format
	// Encoding is the charset child output is decoded from.
	Encoding string
	// Color is auto, always or never. Only stderr text is colored.
	Color  string
	Stdout io.Writer
	Stderr io.Writer
	Logger *logging.Logger
}

const (
	colorRed   = "\x1b[31m"
	colorReset = "\x1b[0m"
)

// Sink serializes output from any number of processes.
type Sink struct {
	mu     sync.Mutex
	format Format
	enc    encoding.Encoding
	color  bool
	stdout io.Writer
	stderr io.Writer
	logger *logging.Logger
	now    func() time.Time
}

// New creates a sink.
func New(opts Options) (*Sink, error) {
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	s := &Sink{
		format: opts.Format,
		enc:    enc,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		logger: opts.Logger,
		now:    time.Now,
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.logger == nil {
		s.logger = logging.NullLogger
	}
	s.color, err = useColor(opts.Color, s.stderr)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func useColor(mode string, w io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		if os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		f, ok := w.(interface{ Fd() uintptr })
		return ok && term.IsTerminal(int(f.Fd())), nil
	}
	return false, fmt.Errorf("unknown color mode %q", mode)
}

// Proc renders the events of one process.
type Proc struct {
	s    *Sink
	args []string

	mu   sync.Mutex
	id   string
	pid  int
	decs [2]*decoder
}

// Track starts rendering a process about to be spawned with args.
func (s *Sink) Track(args []string) *Proc {
	return &Proc{
		s:    s,
		args: args,
		decs: [2]*decoder{newDecoder(s.enc), newDecoder(s.enc)},
	}
}

// Options fills the consumers of opts with the Proc's renderers.
func (p *Proc) Options(opts process.SpawnOptions) process.SpawnOptions {
	opts.OnOutput = p.Stdout
	opts.OnError = p.Stderr
	opts.OnExit = p.Exit
	return opts
}

// Bind records the spawned handle and emits a spawn event.
func (p *Proc) Bind(h *process.Handle) {
	p.mu.Lock()
	p.id, p.pid = h.ID(), h.PID()
	p.mu.Unlock()

	if p.s.format != FormatJSON {
		return
	}
	ev := p.event("spawn")
	ev, _ = sjson.SetBytes(ev, "args", p.args)
	p.s.emit(ev)
}

// Stdout renders a chunk of standard output.
func (p *Proc) Stdout(chunk []byte) error { return p.output(process.Stdout, chunk) }

// Stderr renders a chunk of standard error.
func (p *Proc) Stderr(chunk []byte) error { return p.output(process.Stderr, chunk) }

func (p *Proc) output(stream process.Stream, chunk []byte) error {
	p.mu.Lock()
	text := p.decs[stream].decode(chunk, false)
	p.mu.Unlock()
	return p.write(stream, text)
}

func (p *Proc) write(stream process.Stream, text []byte) error {
	if len(text) == 0 {
		return nil
	}
	if p.s.format == FormatJSON {
		ev := p.event("output")
		ev, _ = sjson.SetBytes(ev, "stream", stream.String())
		ev, _ = sjson.SetBytes(ev, "data", string(text))
		return p.s.emit(ev)
	}
	return p.s.text(stream, text)
}

// Exit flushes held bytes and renders the exit status.
func (p *Proc) Exit(status int) error {
	for _, stream := range []process.Stream{process.Stdout, process.Stderr} {
		p.mu.Lock()
		rest := p.decs[stream].decode(nil, true)
		p.mu.Unlock()
		if err := p.write(stream, rest); err != nil {
			return err
		}
	}

	code, exited := process.ExitCode(status)
	p.s.logger.Debug("sink: %s: %s", strings.Join(p.args, " "), process.DescribeStatus(status))
	if p.s.format == FormatJSON {
		ev := p.event("exit")
		ev, _ = sjson.SetBytes(ev, "status", status)
		if exited {
			ev, _ = sjson.SetBytes(ev, "exitCode", code)
		}
		ev, _ = sjson.SetBytes(ev, "signaled", process.Signaled(status))
		return p.s.emit(ev)
	}
	if exited && code == 0 {
		return nil
	}
	msg := fmt.Sprintf("lspawn: %s: %s\n", strings.Join(p.args, " "), process.DescribeStatus(status))
	return p.s.text(process.Stderr, []byte(msg))
}

func (p *Proc) event(kind string) []byte {
	p.mu.Lock()
	id, pid := p.id, p.pid
	p.mu.Unlock()

	ev := []byte(`{}`)
	ev, _ = sjson.SetBytes(ev, "event", kind)
	ev, _ = sjson.SetBytes(ev, "time", p.s.now().UTC().Format(time.RFC3339Nano))
	ev, _ = sjson.SetBytes(ev, "id", id)
	ev, _ = sjson.SetBytes(ev, "pid", pid)
	return ev
}

func (s *Sink) emit(ev []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.stdout.Write(append(ev, '\n'))
	return err
}

func (s *Sink) text(stream process.Stream, text []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream == process.Stdout {
		_, err := s.stdout.Write(text)
		return err
	}
	if !s.color {
		_, err := s.stderr.Write(text)
		return err
	}
	_, err := io.WriteString(s.stderr, colorRed+string(text)+colorReset)
	return err
}

// Writer returns a writer for host messages such as Lua print output.
// In JSON mode each write becomes one "print" event.
func (s *Sink) Writer() io.Writer {
	return printWriter{s}
}

type printWriter struct{ s *Sink }

func (w printWriter) Write(p []byte) (int, error) {
	if w.s.format != FormatJSON {
		w.s.mu.Lock()
		defer w.s.mu.Unlock()
		return w.s.stdout.Write(p)
	}
	ev := []byte(`{}`)
	ev, _ = sjson.SetBytes(ev, "event", "print")
	ev, _ = sjson.SetBytes(ev, "time", w.s.now().UTC().Format(time.RFC3339Nano))
	ev, _ = sjson.SetBytes(ev, "data", strings.TrimSuffix(string(p), "\n"))
	if err := w.s.emit(ev); err != nil {
		return 0, err
	}
	return len(p), nil
}
