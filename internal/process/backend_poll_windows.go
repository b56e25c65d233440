//go:build windows

package process

import "time"

const pollSlice = 5 * time.Millisecond

// pollBackend peeks every watched pipe and checks every child on each pass,
// sleeping between passes until something is ready or the timeout ends.
type pollBackend struct {
	reg *Registry
}

func newPollBackend(reg *Registry) backend {
	return &pollBackend{reg: reg}
}

func (b *pollBackend) add(*Handle) error       { return nil }
func (b *pollBackend) unwatch(*Handle, Stream) {}
func (b *pollBackend) remove(*Handle)          {}
func (b *pollBackend) close() error            { return nil }

func (b *pollBackend) wait(timeout time.Duration) ([]readiness, error) {
	deadline := time.Now().Add(timeout)
	for {
		var out []readiness
		live := b.reg.Snapshot()
		for _, h := range live {
			for _, s := range streams {
				if h.watching[s].Load() && readable(h.file(s)) {
					out = append(out, readiness{h: h, kind: streamEvent(s)})
				}
			}
		}
		for _, h := range live {
			if status, exited, _ := h.tryReap(); exited {
				out = append(out, readiness{h: h, kind: evExit, status: status})
			}
		}
		if len(out) > 0 || timeout == 0 {
			return out, nil
		}
		wait := pollSlice
		if timeout > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, nil
			}
			wait = min(wait, left)
		}
		time.Sleep(wait)
	}
}
