// Package tinycompress produces zlib streams on targets where compress/flate
// is too large. Data goes out in stored (uncompressed) DEFLATE blocks, which
// every zlib reader accepts.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

// maxStoredBlock is the largest payload a stored DEFLATE block can carry
const maxStoredBlock = 0xFFFF

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on Close
type Writer struct {
	output io.Writer
	input  []byte
	adler  hash.Hash32
	closed bool
}

// NewWriter returns a Writer to w. sizeHint preallocates the input buffer;
// allocating during Write has stalled the multicore scheduler before.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	return &Writer{
		output: w,
		input:  make([]byte, 0, sizeHint),
		adler:  adler32.New(),
	}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.input = append(w.input, p...)
	w.adler.Write(p)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	// CMF 0x78: deflate, 32K window. FLG 0x01: fastest, no dictionary.
	if _, err := w.output.Write([]byte{0x78, 0x01}); err != nil {
		return err
	}

	data := w.input
	for {
		n := min(len(data), maxStoredBlock)
		final := n == len(data)

		var header [5]byte
		if final {
			header[0] = 0x01
		}
		header[1] = byte(n)
		header[2] = byte(n >> 8)
		header[3] = ^header[1]
		header[4] = ^header[2]
		if _, err := w.output.Write(header[:]); err != nil {
			return err
		}
		if _, err := w.output.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if final {
			break
		}
	}

	sum := w.adler.Sum32()
	_, err := w.output.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return err
}
