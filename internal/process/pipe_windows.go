//go:build windows

package process

import (
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// peek reports how many bytes are waiting in the pipe behind f.
func peek(f *os.File) (uint32, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		avail uint32
		perr  error
	)
	cerr := rc.Control(func(h uintptr) {
		perr = windows.PeekNamedPipe(windows.Handle(h), nil, 0, nil, &avail, nil)
	})
	if cerr != nil {
		return 0, cerr
	}
	if perr != nil {
		if errors.Is(perr, windows.ERROR_BROKEN_PIPE) {
			return 0, io.EOF
		}
		return 0, perr
	}
	return avail, nil
}

// readNonblock reads whatever is immediately available from f. It returns
// errWouldBlock when the pipe is empty and io.EOF once the writer is gone.
func readNonblock(f *os.File, p []byte) (int, error) {
	avail, err := peek(f)
	if err != nil {
		return 0, err
	}
	if avail == 0 {
		return 0, errWouldBlock
	}
	if int(avail) < len(p) {
		p = p[:avail]
	}
	return f.Read(p)
}

// readable reports whether a read on f would not block.
func readable(f *os.File) bool {
	avail, err := peek(f)
	return err != nil || avail > 0
}

// waitReadable waits up to timeout for out or, when non-nil, errf to
// become readable. Anonymous pipes cannot be waited on, so it peeks.
func waitReadable(out, errf *os.File, timeout time.Duration) (outReady, errReady bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		outReady = readable(out)
		errReady = errf != nil && readable(errf)
		if outReady || errReady || !time.Now().Before(deadline) {
			return outReady, errReady, nil
		}
		time.Sleep(time.Millisecond)
	}
}
