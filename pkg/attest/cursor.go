package attest

import (
	"encoding/binary"
	"fmt"
)

// CBOR major types used by the document layout.
const (
	majorUint   byte = 0x00
	majorBytes  byte = 0x40
	majorText   byte = 0x60
	majorArray  byte = 0x80
	majorMap    byte = 0xa0
	simpleNull  byte = 0xf6
	majorMask   byte = 0xe0
	addInfoMask byte = 0x1f
)

// headSize is the number of bytes a minimal CBOR head for n occupies.
func headSize(n int) int {
	switch {
	case n < 24:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	case uint64(n) <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func bytesSize(n int) int {
	return headSize(n) + n
}

func optionalSize(field []byte) int {
	if field == nil {
		return 1
	}
	return bytesSize(len(field))
}

// writer writes into a buffer allocated once with its final size.
// Every write is bounds checked so a wrong size computation surfaces as ErrLayout.
type writer struct {
	buf []byte
	off int
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, size)}
}

func (w *writer) write(p []byte) error {
	if len(p) > len(w.buf)-w.off {
		return fmt.Errorf("%w: %d bytes at offset %d exceeds buffer of %d", ErrLayout, len(p), w.off, len(w.buf))
	}
	w.off += copy(w.buf[w.off:], p)
	return nil
}

func (w *writer) writeByte(b byte) error {
	if w.off >= len(w.buf) {
		return fmt.Errorf("%w: byte at offset %d exceeds buffer of %d", ErrLayout, w.off, len(w.buf))
	}
	w.buf[w.off] = b
	w.off++
	return nil
}

func (w *writer) writeHead(major byte, n int) error {
	var head [9]byte
	size := headSize(n)
	switch size {
	case 1:
		head[0] = major | byte(n)
	case 2:
		head[0] = major | 24
		head[1] = byte(n)
	case 3:
		head[0] = major | 25
		binary.BigEndian.PutUint16(head[1:], uint16(n)) //nolint:gosec // bounded by headSize
	case 5:
		head[0] = major | 26
		binary.BigEndian.PutUint32(head[1:], uint32(n)) //nolint:gosec // bounded by headSize
	default:
		head[0] = major | 27
		binary.BigEndian.PutUint64(head[1:], uint64(n))
	}
	return w.write(head[:size])
}

// writeUint64 always uses the 9 byte form so the timestamp has a fixed width.
func (w *writer) writeUint64(v uint64) error {
	var b [9]byte
	b[0] = majorUint | 27
	binary.BigEndian.PutUint64(b[1:], v)
	return w.write(b[:])
}

func (w *writer) writeText(s string) error {
	if err := w.writeHead(majorText, len(s)); err != nil {
		return err
	}
	return w.write([]byte(s))
}

func (w *writer) writeBytes(p []byte) error {
	if err := w.writeHead(majorBytes, len(p)); err != nil {
		return err
	}
	return w.write(p)
}

func (w *writer) writeOptional(p []byte) error {
	if p == nil {
		return w.writeByte(simpleNull)
	}
	return w.writeBytes(p)
}

// expectOffset checks that the cursor landed where the size computation said it would.
func (w *writer) expectOffset(off int) error {
	if w.off != off {
		return fmt.Errorf("%w: cursor at %d, expected %d", ErrLayout, w.off, off)
	}
	return nil
}

// reader walks a payload produced by writer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) peek() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("%w: unexpected end at offset %d", ErrMalformedDocument, r.off)
	}
	return r.buf[r.off], nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.peek()
	if err != nil {
		return 0, err
	}
	r.off++
	return b, nil
}

func (r *reader) next(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d exceeds %d remaining", ErrMalformedDocument, n, r.off, r.remaining())
	}
	p := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return p, nil
}

// readHead returns the major type and argument of the next CBOR item.
func (r *reader) readHead() (byte, uint64, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	major, info := b&majorMask, b&addInfoMask
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info <= 27:
		arg, err := r.next(1 << (info - 24))
		if err != nil {
			return 0, 0, err
		}
		var n uint64
		for _, c := range arg {
			n = n<<8 | uint64(c)
		}
		return major, n, nil
	default:
		return 0, 0, fmt.Errorf("%w: unsupported head 0x%02x at offset %d", ErrMalformedDocument, b, r.off-1)
	}
}

func (r *reader) readTyped(major byte, what string) (uint64, error) {
	got, n, err := r.readHead()
	if err != nil {
		return 0, err
	}
	if got != major {
		return 0, fmt.Errorf("%w: %s has major type 0x%02x", ErrUnexpectedField, what, got)
	}
	return n, nil
}

func (r *reader) readBytes(what string) ([]byte, error) {
	n, err := r.readTyped(majorBytes, what)
	if err != nil {
		return nil, err
	}
	return r.next(n)
}

func (r *reader) readText(what string) (string, error) {
	n, err := r.readTyped(majorText, what)
	if err != nil {
		return "", err
	}
	p, err := r.next(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// expectKey consumes a text key and fails with ErrUnexpectedField if it is not key.
func (r *reader) expectKey(key string) error {
	got, err := r.readText("key")
	if err != nil {
		return err
	}
	if got != key {
		return fmt.Errorf("%w: got key %q, expected %q", ErrUnexpectedField, got, key)
	}
	return nil
}

// readOptional returns nil for a CBOR null and the byte string otherwise.
func (r *reader) readOptional(what string) ([]byte, error) {
	b, err := r.peek()
	if err != nil {
		return nil, err
	}
	if b == simpleNull {
		r.off++
		return nil, nil
	}
	return r.readBytes(what)
}
