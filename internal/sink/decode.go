package sink

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// lookupEncoding resolves an IANA or WHATWG charset name. An empty name is
// UTF-8.
func lookupEncoding(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// decoder converts one output stream to UTF-8. Bytes of a character split
// across chunks are held until the next chunk.
type decoder struct {
	t       transform.Transformer
	pending []byte
	buf     []byte
}

func newDecoder(enc encoding.Encoding) *decoder {
	return &decoder{t: enc.NewDecoder()}
}

func (d *decoder) decode(p []byte, atEOF bool) []byte {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}
	if need := 3*len(src) + 16; cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	buf := d.buf[:cap(d.buf)]

	var out []byte
	for {
		nDst, nSrc, err := d.t.Transform(buf, src, atEOF)
		out = append(out, buf[:nDst]...)
		src = src[nSrc:]
		switch {
		case err == nil:
			return out
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				buf = make([]byte, 2*len(buf))
				d.buf = buf
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out
		default:
			// Undecodable input passes through unchanged.
			d.t.Reset()
			return append(out, src...)
		}
	}
}
