//go:build unix

package process

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// readNonblock reads whatever is immediately available from f. It returns
// errWouldBlock when the pipe is empty and io.EOF once the writer is gone.
func readNonblock(f *os.File, p []byte) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		n    int
		rerr error
	)
	cerr := rc.Control(func(fd uintptr) {
		for {
			n, rerr = unix.Read(int(fd), p)
			if rerr != unix.EINTR {
				return
			}
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	switch {
	case rerr == unix.EAGAIN:
		return 0, errWouldBlock
	case rerr != nil:
		return 0, rerr
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

// descriptor returns the OS descriptor behind f without changing its
// blocking mode.
func descriptor(f *os.File) (int, bool) {
	rc, err := f.SyscallConn()
	if err != nil {
		return -1, false
	}
	fd := -1
	if err := rc.Control(func(u uintptr) { fd = int(u) }); err != nil {
		return -1, false
	}
	return fd, true
}

// waitReadable waits up to timeout for out or, when non-nil, errf to
// become readable. Hang-up and error conditions count as readable.
func waitReadable(out, errf *os.File, timeout time.Duration) (outReady, errReady bool, err error) {
	fds := make([]unix.PollFd, 0, 2)
	fd, ok := descriptor(out)
	if !ok {
		return true, false, nil
	}
	fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	if errf != nil {
		if efd, ok := descriptor(errf); ok {
			fds = append(fds, unix.PollFd{Fd: int32(efd), Events: unix.POLLIN})
		}
	}
	_, err = unix.Poll(fds, timeoutMillis(timeout))
	if err == unix.EINTR {
		return false, false, nil
	}
	if err != nil {
		return false, false, os.NewSyscallError("poll", err)
	}
	const ready = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	outReady = fds[0].Revents&ready != 0
	errReady = len(fds) > 1 && fds[1].Revents&ready != 0
	return outReady, errReady, nil
}
