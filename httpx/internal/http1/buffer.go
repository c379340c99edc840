package http1

import (
	"bytes"
	"io"
)

// ReadBuffer is a bounded byte buffer filled from a socket and drained by
// the active parser. Unread bytes always live in buf[r:w].
type ReadBuffer struct {
	buf []byte
	r   int
	w   int
}

func NewReadBuffer(size int) *ReadBuffer {
	if size <= 0 {
		size = 4096
	}
	return &ReadBuffer{buf: make([]byte, size)}
}

// Len returns the number of buffered, unconsumed bytes.
func (b *ReadBuffer) Len() int { return b.w - b.r }

// Cap returns the fixed capacity of the buffer.
func (b *ReadBuffer) Cap() int { return len(b.buf) }

// Full reports whether no more bytes can be read in without consuming some.
func (b *ReadBuffer) Full() bool { return b.r == 0 && b.w == len(b.buf) }

// Bytes returns the unconsumed bytes. The slice is only valid until the next
// Fill or Discard.
func (b *ReadBuffer) Bytes() []byte { return b.buf[b.r:b.w] }

// Discard consumes n buffered bytes.
func (b *ReadBuffer) Discard(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Reset drops all buffered bytes.
func (b *ReadBuffer) Reset() { b.r, b.w = 0, 0 }

// Fill performs a single Read from src into the free tail of the buffer,
// compacting unread bytes to the front first. It returns io.ErrShortBuffer
// when the buffer is already full.
func (b *ReadBuffer) Fill(src io.Reader) (int, error) {
	if b.r > 0 {
		n := copy(b.buf, b.buf[b.r:b.w])
		b.r, b.w = 0, n
	}
	if b.w == len(b.buf) {
		return 0, io.ErrShortBuffer
	}
	n, err := src.Read(b.buf[b.w:])
	if n > 0 {
		b.w += n
	}
	return n, err
}

// Write appends p to the buffer, as if it had been read from a socket.
// It returns io.ErrShortBuffer if p does not fit.
func (b *ReadBuffer) Write(p []byte) (int, error) {
	if b.r > 0 {
		n := copy(b.buf, b.buf[b.r:b.w])
		b.r, b.w = 0, n
	}
	n := copy(b.buf[b.w:], p)
	b.w += n
	if n < len(p) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

// ReadLine consumes one CRLF (or bare LF) terminated line and returns it
// without the terminator. ok is false when no complete line is buffered yet.
// A line that cannot fit in the buffer yields ErrLineTooLong.
func (b *ReadBuffer) ReadLine() (line []byte, ok bool, err error) {
	data := b.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		if b.Full() {
			return nil, false, ErrLineTooLong
		}
		return nil, false, nil
	}
	line = data[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	b.Discard(i + 1)
	return line, true, nil
}

// CopyTo moves at most max buffered bytes into dst; max < 0 means all.
func (b *ReadBuffer) CopyTo(dst io.Writer, max int64) (int64, error) {
	data := b.Bytes()
	if max >= 0 && int64(len(data)) > max {
		data = data[:max]
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := dst.Write(data)
	b.Discard(n)
	return int64(n), err
}
