package attest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n    int
		want int
	}{
		{0, 1},
		{23, 1},
		{24, 2},
		{255, 2},
		{256, 3},
		{0xffff, 3},
		{0x10000, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, headSize(tt.n), "headSize(%d)", tt.n)
	}
}

func TestWriterHeads(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n    int
		want []byte
	}{
		{23, []byte{0x57}},
		{24, []byte{0x58, 0x18}},
		{255, []byte{0x58, 0xff}},
		{256, []byte{0x59, 0x01, 0x00}},
		{0x10000, []byte{0x5a, 0x00, 0x01, 0x00, 0x00}},
	}
	for _, tt := range tests {
		w := newWriter(len(tt.want))
		require.NoError(t, w.writeHead(majorBytes, tt.n))
		assert.Equal(t, tt.want, w.buf, "head for %d", tt.n)
	}
}

func TestWriterOverflow(t *testing.T) {
	t.Parallel()

	w := newWriter(2)
	require.ErrorIs(t, w.write([]byte{1, 2, 3}), ErrLayout)
	require.NoError(t, w.write([]byte{1, 2}))
	require.ErrorIs(t, w.writeByte(3), ErrLayout)
	require.NoError(t, w.expectOffset(2))
	require.ErrorIs(t, w.expectOffset(1), ErrLayout)

	w = newWriter(8)
	require.ErrorIs(t, w.writeUint64(1), ErrLayout)
}

func TestReaderHead(t *testing.T) {
	t.Parallel()

	r := &reader{buf: []byte{0x1b, 0, 0, 1, 0x94, 0x21, 0x3c, 0x50, 0x00}}
	major, n, err := r.readHead()
	require.NoError(t, err)
	assert.Equal(t, majorUint, major)
	assert.Equal(t, uint64(0x194213c5000), n)
	assert.Zero(t, r.remaining())

	r = &reader{buf: []byte{0x59, 0x01}}
	_, _, err = r.readHead()
	require.ErrorIs(t, err, ErrMalformedDocument)

	r = &reader{buf: []byte{0x5f}}
	_, _, err = r.readHead()
	require.ErrorIs(t, err, ErrMalformedDocument)

	r = &reader{buf: []byte{0x45, 1, 2}}
	_, err = r.readBytes("value")
	require.ErrorIs(t, err, ErrMalformedDocument)

	r = &reader{buf: []byte{0x61, 'a'}}
	_, err = r.readBytes("value")
	require.ErrorIs(t, err, ErrUnexpectedField)
}
