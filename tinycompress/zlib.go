// Package tinycompress produces zlib streams made of stored DEFLATE blocks.
// It never allocates inside Write beyond the initial buffer, which keeps it
// safe to run on small targets while the firmware builds its dictionary.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// maxStoredBlock is the largest payload a stored DEFLATE block can carry.
const maxStoredBlock = 0xFFFF

// zlibHeader is CMF/FLG for a 32K window at default compression.
var zlibHeader = [2]byte{0x78, 0x9C}

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on
// Close.
type Writer struct {
	out    io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer that reserves sizeHint bytes up front.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	return &Writer{out: w, buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the header, one stored block per 64K of input and the
// Adler-32 trailer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.out.Write(Compress(w.buf))
	return err
}

// Compress returns data wrapped as a zlib stream.
func Compress(data []byte) []byte {
	blocks := (len(data) + maxStoredBlock - 1) / maxStoredBlock
	if blocks == 0 {
		blocks = 1
	}
	out := make([]byte, 0, len(zlibHeader)+5*blocks+len(data)+4)
	out = append(out, zlibHeader[:]...)

	rest := data
	for {
		n := min(len(rest), maxStoredBlock)
		final := n == len(rest)

		var bfinal byte
		if final {
			bfinal = 0x01
		}
		length := uint16(n)
		out = append(out, bfinal,
			byte(length), byte(length>>8),
			byte(^length), byte(^length>>8))
		out = append(out, rest[:n]...)
		rest = rest[n:]
		if final {
			break
		}
	}

	sum := adler32.Checksum(data)
	return append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

// IsCompressed reports whether data starts with the header Compress writes.
func IsCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == zlibHeader[0] && data[1] == zlibHeader[1]
}
