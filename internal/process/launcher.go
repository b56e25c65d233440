package process

import (
	"os"
)

// LaunchParams describes the child to create.
type LaunchParams struct {
	// Path is the resolved executable.
	Path string
	// Args is the full argument vector, Args[0] included.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env replaces the environment when non-nil; nil inherits it.
	Env []string
}

// Child is a freshly started process and the parent ends of its pipes.
type Child struct {
	PID     int
	Process *os.Process
	Stdin   *os.File
	Stdout  *os.File
	Stderr  *os.File
}

// Launcher creates child processes with redirected standard streams.
// The child must not be reaped by the launcher.
type Launcher interface {
	Launch(p LaunchParams) (*Child, error)
}

// DefaultLauncher returns the launcher backed by os.StartProcess: fork and
// exec on Unix, CreateProcess with inherited pipe handles on Windows.
func DefaultLauncher() Launcher {
	return osLauncher{}
}

type osLauncher struct{}

// Launch creates three pipes, starts the child on their far ends and closes
// those ends in the parent. On failure every pipe end is closed.
func (osLauncher) Launch(p LaunchParams) (*Child, error) {
	var opened []*os.File
	fail := func(op string, err error) (*Child, error) {
		for _, f := range opened {
			_ = f.Close()
		}
		return nil, &SpawnError{Program: p.Path, Op: op, Err: err}
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return fail("stdin pipe", err)
	}
	opened = append(opened, inR, inW)

	outR, outW, err := os.Pipe()
	if err != nil {
		return fail("stdout pipe", err)
	}
	opened = append(opened, outR, outW)

	errR, errW, err := os.Pipe()
	if err != nil {
		return fail("stderr pipe", err)
	}
	opened = append(opened, errR, errW)

	proc, err := os.StartProcess(p.Path, p.Args, &os.ProcAttr{
		Dir:   p.Dir,
		Env:   p.Env,
		Files: []*os.File{inR, outW, errW},
		Sys:   sysProcAttr(),
	})
	if err != nil {
		return fail("start", err)
	}

	_ = inR.Close()
	_ = outW.Close()
	_ = errW.Close()

	return &Child{
		PID:     proc.Pid,
		Process: proc,
		Stdin:   inW,
		Stdout:  outR,
		Stderr:  errR,
	}, nil
}
