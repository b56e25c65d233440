package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ReadKind selects how much Read returns.
type ReadKind int

const (
	// ReadLine returns the next line without its newline.
	ReadLine ReadKind = iota
	// ReadLineKeep returns the next line including its newline.
	ReadLineKeep
	// ReadAll returns everything up to end of stream.
	ReadAll
	// ReadBytes returns up to N bytes.
	ReadBytes
)

// ReadMode is the argument to Handle.Read.
type ReadMode struct {
	Kind ReadKind
	N    int
}

// Common read modes.
var (
	LineMode     = ReadMode{Kind: ReadLine}
	LineKeepMode = ReadMode{Kind: ReadLineKeep}
	AllMode      = ReadMode{Kind: ReadAll}
)

// ReadN returns the mode reading up to n bytes.
func ReadN(n int) ReadMode {
	return ReadMode{Kind: ReadBytes, N: n}
}

// ParseReadMode parses "l", "L", "a" (each optionally prefixed with '*')
// or a non-negative byte count.
func ParseReadMode(s string) (ReadMode, error) {
	switch strings.TrimPrefix(s, "*") {
	case "l":
		return LineMode, nil
	case "L":
		return LineKeepMode, nil
	case "a":
		return AllMode, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return ReadMode{}, fmt.Errorf("invalid read mode %q", s)
	}
	return ReadN(n), nil
}

func (m ReadMode) String() string {
	switch m.Kind {
	case ReadLine:
		return "*l"
	case ReadLineKeep:
		return "*L"
	case ReadAll:
		return "*a"
	default:
		return strconv.Itoa(m.N)
	}
}

// pullReader buffers stdout for handles without an output consumer.
type pullReader struct {
	mu    sync.Mutex
	src   io.Reader
	chunk int
	buf   []byte
	eof   bool
	// drained is set once ReadAll has returned the tail of the stream.
	drained bool
}

func newPullReader(src io.Reader, chunk int) *pullReader {
	return &pullReader{src: src, chunk: chunk}
}

func (p *pullReader) fill() error {
	tmp := make([]byte, p.chunk)
	n, err := p.src.Read(tmp)
	p.buf = append(p.buf, tmp[:n]...)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			p.eof = true
			return nil
		}
		return newIOError("read", err)
	}
	return nil
}

func (p *pullReader) take(n int) []byte {
	out := make([]byte, n)
	copy(out, p.buf[:n])
	p.buf = p.buf[n:]
	return out
}

func (p *pullReader) read(mode ReadMode) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch mode.Kind {
	case ReadLine, ReadLineKeep:
		for {
			if i := bytes.IndexByte(p.buf, '\n'); i >= 0 {
				line := p.take(i + 1)
				if mode.Kind == ReadLine {
					line = line[:i]
				}
				return line, nil
			}
			if p.eof {
				if len(p.buf) == 0 {
					return nil, io.EOF
				}
				return p.take(len(p.buf)), nil
			}
			if err := p.fill(); err != nil {
				return nil, err
			}
		}

	case ReadAll:
		for !p.eof {
			if err := p.fill(); err != nil {
				return nil, err
			}
		}
		if p.drained && len(p.buf) == 0 {
			return nil, io.EOF
		}
		p.drained = true
		return p.take(len(p.buf)), nil

	case ReadBytes:
		if mode.N < 0 {
			return nil, fmt.Errorf("invalid read size %d", mode.N)
		}
		if len(p.buf) == 0 && !p.eof {
			if err := p.fill(); err != nil {
				return nil, err
			}
		}
		for len(p.buf) < mode.N && !p.eof {
			if err := p.fill(); err != nil {
				return nil, err
			}
		}
		if len(p.buf) == 0 && p.eof {
			return nil, io.EOF
		}
		return p.take(min(mode.N, len(p.buf))), nil
	}
	return nil, fmt.Errorf("invalid read mode %d", mode.Kind)
}

// absorb moves what is immediately available on f into the buffer and
// marks the stream finished. It is called once, at teardown.
func (p *pullReader) absorb(f *os.File, scratch []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.eof {
		n, err := readNonblock(f, scratch)
		p.buf = append(p.buf, scratch[:n]...)
		if err != nil {
			break
		}
	}
	p.eof = true
}
