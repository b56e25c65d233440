package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// dispatch acts on one readiness event. Called with dispatchMu held.
func (r *Reactor) dispatch(ev readiness) {
	if ev.h.tearing.Load() {
		return
	}
	switch ev.kind {
	case evStdout:
		r.drain(ev.h, Stdout)
	case evStderr:
		r.drain(ev.h, Stderr)
	case evExit:
		r.terminate(ev.h, ev.status)
	}
}

// drain reads chunks until the pipe is momentarily empty. A short read ends
// the loop; end of stream stops watching the stream.
func (r *Reactor) drain(h *Handle, s Stream) {
	if !h.watching[s].Load() {
		return
	}
	f := h.file(s)
	for {
		n, err := readNonblock(f, r.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, r.buf[:n])
			r.deliver(h, s, chunk)
		}
		switch {
		case err == nil:
			if n < len(r.buf) {
				return
			}
		case errors.Is(err, errWouldBlock):
			return
		default:
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.logger.WithField("pid", h.PID()).Warn("%s read failed: %v", s, err)
			}
			h.watching[s].Store(false)
			r.backend.unwatch(h, s)
			return
		}
	}
}

func (r *Reactor) deliver(h *Handle, s Stream, chunk []byte) {
	fn := h.consumer(s)
	if fn == nil {
		return
	}
	if err := r.call(func() error { return fn(chunk) }); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"pid":    h.PID(),
			"stream": s.String(),
		}).Error("output consumer: %v", err)
	}
}

// call runs a consumer, converting a panic into an error.
func (r *Reactor) call(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("consumer panic: %v", p)
		}
	}()
	return fn()
}

// terminate tears a handle down once: flush, exit consumer, unwatch, close,
// mark terminated. Called with dispatchMu held.
func (r *Reactor) terminate(h *Handle, status int) {
	if !h.tearing.CompareAndSwap(false, true) {
		return
	}
	log := r.logger.WithField("pid", h.PID())

	for _, s := range streams {
		r.drain(h, s)
	}
	if h.pull != nil {
		h.pull.absorb(h.stdout, r.buf)
	}

	if fn := h.onExit; fn != nil {
		if err := r.call(func() error { return fn(status) }); err != nil {
			log.Error("exit consumer: %v", err)
		}
	}

	r.backend.remove(h)
	r.registry.Remove(h)
	h.release()
	h.exit.Store(int64(status))
	h.state.Store(int32(StateTerminated))
	close(h.done)

	log.Debug("terminated: %s", DescribeStatus(status))
}

// finish tears h down from outside the driving goroutine.
func (r *Reactor) finish(h *Handle, status int) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.terminate(h, status)
}

// awaitStdout waits for h's stdout during a pull Read. Stderr that becomes
// readable meanwhile is drained to its consumer, or discarded without one.
// When another goroutine holds the dispatch lock, that holder drains it.
func (r *Reactor) awaitStdout(h *Handle) error {
	var errf *os.File
	if h.watching[Stderr].Load() {
		errf = h.stderr
	}
	outReady, errReady, err := waitReadable(h.stdout, errf, r.interval)
	if err != nil {
		return newIOError("read", err)
	}
	if !errReady {
		return nil
	}
	if r.dispatchMu.TryLock() {
		if !h.tearing.Load() {
			r.drain(h, Stderr)
		}
		r.dispatchMu.Unlock()
	} else if !outReady {
		time.Sleep(r.interval)
	}
	return nil
}
