//go:build unix

package process

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type pollSlot struct {
	h *Handle
	s Stream
}

// pollBackend rebuilds its descriptor set from the registry on every tick
// and reaps exited children with a non-blocking wait.
type pollBackend struct {
	reg   *Registry
	fds   []unix.PollFd
	slots []pollSlot
}

func newPollBackend(reg *Registry) backend {
	return &pollBackend{reg: reg}
}

func (b *pollBackend) add(*Handle) error       { return nil }
func (b *pollBackend) unwatch(*Handle, Stream) {}
func (b *pollBackend) remove(*Handle)          {}
func (b *pollBackend) close() error            { return nil }

func (b *pollBackend) wait(timeout time.Duration) ([]readiness, error) {
	live := b.reg.Snapshot()
	b.fds = b.fds[:0]
	b.slots = b.slots[:0]
	for _, h := range live {
		for _, s := range streams {
			if !h.watching[s].Load() {
				continue
			}
			fd, ok := descriptor(h.file(s))
			if !ok {
				continue
			}
			b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			b.slots = append(b.slots, pollSlot{h: h, s: s})
		}
	}

	n, err := unix.Poll(b.fds, timeoutMillis(timeout))
	if err == unix.EINTR {
		n, err = 0, nil
	}
	if err != nil {
		return nil, os.NewSyscallError("poll", err)
	}

	var out []readiness
	if n > 0 {
		for i, pfd := range b.fds {
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				out = append(out, readiness{h: b.slots[i].h, kind: streamEvent(b.slots[i].s)})
			}
		}
	}
	for _, h := range live {
		if status, exited, _ := h.tryReap(); exited {
			out = append(out, readiness{h: h, kind: evExit, status: status})
		}
	}
	return out, nil
}
