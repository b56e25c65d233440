//go:build windows

package process

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// TerminateProcess on a process that has already exited fails with
// access denied.
var errProcessGone error = windows.ERROR_ACCESS_DENIED

type sysProc struct {
	h windows.Handle
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: true}
}

func openSysProc(proc *os.Process) (sysProc, error) {
	access := uint32(windows.SYNCHRONIZE | windows.PROCESS_QUERY_LIMITED_INFORMATION | windows.PROCESS_TERMINATE)
	h, err := windows.OpenProcess(access, false, uint32(proc.Pid))
	if err != nil {
		return sysProc{}, err
	}
	return sysProc{h: h}, nil
}

func (s *sysProc) kill(int) error {
	if s.h == 0 {
		return nil
	}
	return windows.TerminateProcess(s.h, 1)
}

func (s *sysProc) release() {
	if s.h != 0 {
		_ = windows.CloseHandle(s.h)
		s.h = 0
	}
}

func (s *sysProc) exitCode() (int, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(s.h, &code); err != nil {
		return 0, err
	}
	return int(code), nil
}

func (s *sysProc) tryWait(int) (int, bool, error) {
	ev, err := windows.WaitForSingleObject(s.h, 0)
	if err != nil {
		return 0, false, err
	}
	if ev != windows.WAIT_OBJECT_0 {
		return 0, false, nil
	}
	code, err := s.exitCode()
	return code, err == nil, err
}

func (s *sysProc) wait(int) (int, error) {
	if _, err := windows.WaitForSingleObject(s.h, windows.INFINITE); err != nil {
		return 0, err
	}
	return s.exitCode()
}

// ExitCode decodes a raw status. On Windows the status is the exit code.
func ExitCode(status int) (code int, ok bool) {
	return status, true
}

// Signaled is always false on Windows.
func Signaled(int) bool { return false }

// DescribeStatus renders a raw status for humans.
func DescribeStatus(status int) string {
	return fmt.Sprintf("exit status %d", status)
}
