package slave

import (
	"bytes"
	"hash"
	"io"
)

const (
	packetHeaderSize = 4
	maxPacketSize    = 1<<24 - 1
)

// reader decodes the MySQL wire format from an io.Reader.
//
// Errors are sticky: the first failure is recorded in err and every
// subsequent read returns a zero value, so decode code can run a whole
// field sequence and check err once at the end.
type reader struct {
	rd  io.Reader
	err error

	buf []byte // contents are the bytes buf[off:]
	off int

	// limit, when >= 0, is the number of frame bytes that may still be
	// consumed. A fixed-width field crossing it is a malformed frame.
	limit int

	// decode context for event unmarshallers
	fde      FormatDescriptionEvent
	checksum int // trailing bytes per event, 4 when CRC32 is on

	// hash, when non-nil, accumulates every consumed byte. The event
	// loop arms it after the OK marker and compares it against the
	// CRC32 trailer.
	hash hash.Hash32
}

func newReader(rd io.Reader, seq *uint8) *reader {
	return &reader{
		rd:    &packetReader{rd: rd, seq: seq},
		limit: -1,
	}
}

func (r *reader) window() []byte {
	w := r.buf[r.off:]
	if r.limit >= 0 && len(w) > r.limit {
		return w[:r.limit]
	}
	return w
}

func (r *reader) readMore() error {
	if r.err != nil {
		return r.err
	}
	if r.limit >= 0 && len(r.buf)-r.off >= r.limit {
		return io.EOF
	}
	if len(r.buf) == cap(r.buf) {
		if r.off > 0 {
			n := copy(r.buf, r.buf[r.off:])
			r.buf, r.off = r.buf[:n], 0
		} else {
			grown := make([]byte, len(r.buf), cap(r.buf)+1<<20)
			copy(grown, r.buf)
			r.buf = grown
		}
	}
	n, err := r.rd.Read(r.buf[len(r.buf):cap(r.buf)])
	r.buf = r.buf[:len(r.buf)+n]
	if err == io.EOF {
		return io.EOF
	}
	r.err = err
	return r.err
}

// ensure makes at least n bytes available in the window.
func (r *reader) ensure(n int) error {
	if r.limit >= 0 && n > r.limit {
		r.err = ErrMalformedFrame
		return r.err
	}
	for r.err == nil && n > len(r.window()) {
		if r.readMore() == io.EOF {
			r.err = ErrMalformedFrame
			break
		}
	}
	return r.err
}

func (r *reader) peek() (byte, error) {
	if err := r.ensure(1); err != nil {
		return 0, err
	}
	return r.window()[0], nil
}

func (r *reader) skip(n int) error {
	if r.err != nil {
		return r.err
	}
	if r.limit >= 0 && n > r.limit {
		r.err = ErrMalformedFrame
		return r.err
	}
	for n > 0 {
		if len(r.window()) == 0 {
			if r.readMore() == io.EOF {
				r.err = ErrMalformedFrame
			}
			if r.err != nil {
				return r.err
			}
		}
		m := n
		if m > len(r.window()) {
			m = len(r.window())
		}
		if r.hash != nil {
			r.hash.Write(r.buf[r.off : r.off+m])
		}
		r.off += m
		n -= m
		if r.limit >= 0 {
			r.limit -= m
		}
	}
	return nil
}

// drain discards the rest of the current frame.
func (r *reader) drain() error {
	if r.err == ErrMalformedFrame {
		r.err = nil
	}
	for r.err == nil {
		r.skip(len(r.window()))
		if r.readMore() == io.EOF {
			return nil
		}
	}
	return r.err
}

func (r *reader) more() bool {
	if r.err != nil {
		return false
	}
	if len(r.window()) > 0 || r.limit > 0 {
		return true
	}
	return r.readMore() == nil
}

func (r *reader) Read(p []byte) (int, error) {
	if len(r.window()) == 0 {
		if err := r.readMore(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.window())
	r.skip(n)
	return n, nil
}

// little-endian integers ---

func (r *reader) int1() byte {
	if r.ensure(1) != nil {
		return 0
	}
	v := r.window()[0]
	r.skip(1)
	return v
}

func (r *reader) int2() uint16 {
	return uint16(r.intFixed(2))
}

func (r *reader) int3() uint32 {
	return uint32(r.intFixed(3))
}

func (r *reader) int4() uint32 {
	return uint32(r.intFixed(4))
}

func (r *reader) int6() uint64 {
	return r.intFixed(6)
}

func (r *reader) int8() uint64 {
	return r.intFixed(8)
}

func (r *reader) intFixed(n int) uint64 {
	if r.ensure(n) != nil {
		return 0
	}
	var v uint64
	for i, b := range r.window()[:n] {
		v |= uint64(b) << (uint(i) * 8)
	}
	r.skip(n)
	return v
}

// intN reads a length-encoded integer.
//
// https://dev.mysql.com/doc/internals/en/integer.html#length-encoded-integer
func (r *reader) intN() uint64 {
	b := r.int1()
	if r.err != nil {
		return 0
	}
	switch b {
	case 0xfc:
		return uint64(r.int2())
	case 0xfd:
		return uint64(r.int3())
	case 0xfe:
		return r.int8()
	default:
		return uint64(b)
	}
}

// bytes, strings ---

// bytesIn returns n bytes borrowed from the read buffer. The slice is
// valid only until the next read.
func (r *reader) bytesIn(n int) []byte {
	if r.ensure(n) != nil {
		return nil
	}
	v := r.window()[:n]
	r.skip(n)
	return v
}

func (r *reader) bytes(n int) []byte {
	return append([]byte(nil), r.bytesIn(n)...)
}

func (r *reader) string(n int) string {
	return string(r.bytesIn(n))
}

func (r *reader) bytesNullIn() []byte {
	if r.err != nil {
		return nil
	}
	i := 0
	for {
		if i == len(r.window()) {
			if r.readMore() != nil {
				return nil
			}
		}
		if j := bytes.IndexByte(r.window()[i:], 0); j != -1 {
			v := r.window()[:i+j]
			r.skip(i + j + 1)
			return v
		}
		i = len(r.window())
	}
}

func (r *reader) bytesNull() []byte {
	return append([]byte(nil), r.bytesNullIn()...)
}

func (r *reader) stringNull() string {
	return string(r.bytesNullIn())
}

func (r *reader) bytesEOFIn() []byte {
	for {
		if r.err != nil {
			return nil
		}
		if r.readMore() == io.EOF {
			v := r.window()
			r.skip(len(v))
			return v
		}
	}
}

func (r *reader) bytesEOF() []byte {
	return append([]byte(nil), r.bytesEOFIn()...)
}

func (r *reader) stringEOF() string {
	return string(r.bytesEOFIn())
}

func (r *reader) stringN() string {
	n := r.intN()
	if r.err != nil {
		return ""
	}
	return r.string(int(n))
}
