package sniff

import (
	"io"

	"github.com/pkg/errors"
)

// bufferCapacity is the fixed capacity of Buffer: total bytes retained
// for a single HTTP request line + headers must not exceed 4096.
const bufferCapacity = 4096

// ErrBufferExceeded is returned when a connection's headers would need
// more than bufferCapacity bytes of retention. This is a fatal error for
// that connection.
var ErrBufferExceeded = errors.Errorf("sniff: buffered request exceeds %d bytes", bufferCapacity)

// Buffer is a fixed-capacity accumulating read buffer. It owns every
// byte read from the client so the caller can forward them verbatim to
// the upstream after hostname extraction.
type Buffer struct {
	data [bufferCapacity]byte
	pos  int // next byte to return
	cap  int // bytes received so far
}

// Bytes returns every byte accumulated so far, in the order they were
// read from the source.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.cap]
}

// ReadLine returns the next '\n'-delimited line from r, with an optional
// trailing '\r' stripped, reading more from r as needed. Already
// buffered bytes are consulted first; ReadLine never discards bytes it
// has already read, so Bytes() always reflects every line returned so
// far plus read-ahead.
func (b *Buffer) ReadLine(r io.Reader) (string, error) {
	for {
		for i := b.pos; i < b.cap; i++ {
			if b.data[i] == '\n' {
				start := b.pos
				end := i
				if end > start && b.data[end-1] == '\r' {
					end--
				}
				b.pos = i + 1
				return string(b.data[start:end]), nil
			}
		}

		if b.cap >= len(b.data) {
			return "", ErrBufferExceeded
		}

		n, err := r.Read(b.data[b.cap:])
		if n > 0 {
			b.cap += n
			continue
		}
		if err == nil {
			err = io.ErrNoProgress
		}
		return "", errors.Wrap(err, "sniff: connection closed before line was complete")
	}
}
