//go:build linux

package process

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type epollWatch struct {
	h    *Handle
	kind eventKind
	fd   int
}

// epollBackend watches output pipes level-triggered and each child's pidfd
// one-shot, so an exit is reported once.
type epollBackend struct {
	epfd   int
	events []unix.EpollEvent

	mu       sync.Mutex
	watches  map[int32]*epollWatch
	byHandle map[*Handle][]*epollWatch
}

func newEventBackend() (backend, error) {
	if err := pidfdSupported(); err != nil {
		return nil, fmt.Errorf("%w: pidfd: %v", ErrUnsupported, err)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: epoll: %v", ErrUnsupported, err)
	}
	return &epollBackend{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, 64),
		watches:  make(map[int32]*epollWatch),
		byHandle: make(map[*Handle][]*epollWatch),
	}, nil
}

func (b *epollBackend) ctl(op, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, op, fd, &ev)
}

func (b *epollBackend) add(h *Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added []*epollWatch
	rollback := func(err error) error {
		for _, a := range added {
			_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, a.fd, nil)
			delete(b.watches, int32(a.fd))
		}
		return err
	}
	register := func(w *epollWatch, events uint32) error {
		if err := b.ctl(unix.EPOLL_CTL_ADD, w.fd, events); err != nil {
			return os.NewSyscallError("epoll_ctl", err)
		}
		added = append(added, w)
		b.watches[int32(w.fd)] = w
		return nil
	}

	for _, s := range streams {
		if !h.watching[s].Load() {
			continue
		}
		fd, ok := descriptor(h.file(s))
		if !ok {
			return rollback(fmt.Errorf("%s: %w", s, os.ErrClosed))
		}
		if err := register(&epollWatch{h: h, kind: streamEvent(s), fd: fd}, unix.EPOLLIN); err != nil {
			return rollback(err)
		}
	}
	if h.sys.pidfd < 0 {
		return rollback(fmt.Errorf("%w: no pidfd for pid %d", ErrUnsupported, h.PID()))
	}
	if err := register(&epollWatch{h: h, kind: evExit, fd: h.sys.pidfd}, unix.EPOLLIN|unix.EPOLLONESHOT); err != nil {
		return rollback(err)
	}
	b.byHandle[h] = added
	return nil
}

func (b *epollBackend) unwatch(h *Handle, s Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kind := streamEvent(s)
	ws := b.byHandle[h]
	for i, w := range ws {
		if w.kind != kind {
			continue
		}
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, w.fd, nil)
		delete(b.watches, int32(w.fd))
		b.byHandle[h] = append(ws[:i:i], ws[i+1:]...)
		return
	}
}

func (b *epollBackend) remove(h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.byHandle[h] {
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, w.fd, nil)
		delete(b.watches, int32(w.fd))
	}
	delete(b.byHandle, h)
}

func (b *epollBackend) wait(timeout time.Duration) ([]readiness, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMillis(timeout))
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	var (
		out   []readiness
		exits []*epollWatch
	)
	b.mu.Lock()
	for _, ev := range b.events[:n] {
		w := b.watches[ev.Fd]
		if w == nil {
			continue
		}
		if w.kind == evExit {
			exits = append(exits, w)
			continue
		}
		out = append(out, readiness{h: w.h, kind: w.kind})
	}
	b.mu.Unlock()

	for _, w := range exits {
		status, exited, busy := w.h.tryReap()
		switch {
		case exited:
			out = append(out, readiness{h: w.h, kind: evExit, status: status})
		case !busy:
			b.rearm(w)
		}
	}
	return out, nil
}

func (b *epollBackend) rearm(w *epollWatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watches[int32(w.fd)] != w {
		return
	}
	_ = b.ctl(unix.EPOLL_CTL_MOD, w.fd, unix.EPOLLIN|unix.EPOLLONESHOT)
}

func (b *epollBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches = make(map[int32]*epollWatch)
	b.byHandle = make(map[*Handle][]*epollWatch)
	return unix.Close(b.epfd)
}
