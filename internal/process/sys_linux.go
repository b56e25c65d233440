//go:build linux

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// sysProc holds a pidfd when the kernel provides one.
type sysProc struct {
	pidfd int
}

func openSysProc(proc *os.Process) (sysProc, error) {
	fd, err := unix.PidfdOpen(proc.Pid, 0)
	if err != nil {
		return sysProc{pidfd: -1}, nil
	}
	unix.CloseOnExec(fd)
	return sysProc{pidfd: fd}, nil
}

func (s *sysProc) kill(pid int) error {
	if s.pidfd >= 0 {
		return unix.PidfdSendSignal(s.pidfd, unix.SIGKILL, nil, 0)
	}
	return unix.Kill(pid, unix.SIGKILL)
}

func (s *sysProc) release() {
	if s.pidfd >= 0 {
		_ = unix.Close(s.pidfd)
		s.pidfd = -1
	}
}

func pidfdSupported() error {
	fd, err := unix.PidfdOpen(os.Getpid(), 0)
	if err != nil {
		return err
	}
	return unix.Close(fd)
}
