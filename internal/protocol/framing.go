package protocol

import (
	"bytes"
)

// DefaultMaxBuffer bounds the bytes held while waiting for a newline
const DefaultMaxBuffer = 10000

// LineBuffer reassembles newline-delimited lines from a byte stream.
// A partial trailing fragment is kept for the next Feed. It is not safe for
// concurrent use; each connection owns one.
type LineBuffer struct {
	buf []byte
	max int
}

// NewLineBuffer creates a buffer that discards its content once more than
// max bytes are pending without a delimiter. max <= 0 selects DefaultMaxBuffer.
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = DefaultMaxBuffer
	}
	return &LineBuffer{max: max}
}

// Feed appends data and returns every complete line, trimmed of surrounding
// whitespace, with empty lines skipped. discarded is the number of pending
// bytes dropped because the safety bound was exceeded.
func (b *LineBuffer) Feed(data []byte) (lines [][]byte, discarded int) {
	b.buf = append(b.buf, data...)

	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(b.buf[:i])
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		b.buf = b.buf[i+1:]
	}

	if len(b.buf) > b.max {
		discarded = len(b.buf)
		b.buf = nil
		return lines, discarded
	}

	// compact so the backing array does not grow without bound
	if len(b.buf) == 0 {
		b.buf = nil
	} else if cap(b.buf) > 2*b.max {
		b.buf = append([]byte(nil), b.buf...)
	}
	return lines, 0
}

// Pending returns the number of buffered bytes without a delimiter
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}
