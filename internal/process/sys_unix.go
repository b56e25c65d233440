//go:build unix

package process

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

var errProcessGone error = unix.ESRCH

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func waitPID(pid, options int) (status int, exited bool, err error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, options, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if wpid == 0 {
			return 0, false, nil
		}
		return int(ws), true, nil
	}
}

func (s *sysProc) tryWait(pid int) (int, bool, error) {
	return waitPID(pid, unix.WNOHANG)
}

func (s *sysProc) wait(pid int) (int, error) {
	st, _, err := waitPID(pid, 0)
	return st, err
}

// ExitCode decodes a raw status. ok is false when the child did not exit
// normally.
func ExitCode(status int) (code int, ok bool) {
	ws := unix.WaitStatus(status)
	if ws.Exited() {
		return ws.ExitStatus(), true
	}
	return -1, false
}

// Signaled reports whether the status is a death by signal.
func Signaled(status int) bool {
	return unix.WaitStatus(status).Signaled()
}

// DescribeStatus renders a raw status for humans.
func DescribeStatus(status int) string {
	ws := unix.WaitStatus(status)
	switch {
	case ws.Exited():
		return fmt.Sprintf("exit status %d", ws.ExitStatus())
	case ws.Signaled():
		return fmt.Sprintf("signal: %s", ws.Signal())
	default:
		return fmt.Sprintf("status %#x", status)
	}
}
