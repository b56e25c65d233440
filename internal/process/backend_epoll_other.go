//go:build !linux

package process

func newEventBackend() (backend, error) {
	return nil, ErrUnsupported
}
