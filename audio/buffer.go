package audio

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// Buffer is a bounded byte pipe between a real-time writer and a regular reader.
// Write never blocks: bytes that do not fit are dropped and counted as overrun.
// Read blocks until data is available or the buffer is closed.
type Buffer struct {
	b       *ringbuffer.RingBuffer
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	overrun atomic.Int64
}

func (buf *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()

	for buf.b.Length() == 0 && !buf.closed {
		buf.cond.Wait()
	}

	if buf.b.Length() == 0 {
		return 0, io.EOF
	}

	return buf.b.Read(p)
}

func (buf *Buffer) Write(p []byte) (int, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if buf.closed {
		return 0, io.ErrClosedPipe
	}

	n, _ := buf.b.Write(p)
	if n < len(p) {
		buf.overrun.Add(int64(len(p) - n))
	}
	if n > 0 {
		buf.cond.Broadcast()
	}
	return len(p), nil
}

// Overrun reports how many bytes were dropped because the reader fell behind.
func (buf *Buffer) Overrun() int64 {
	return buf.overrun.Load()
}

func (buf *Buffer) Len() int {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.b.Length()
}

// Close makes pending and future reads return io.EOF once drained.
func (buf *Buffer) Close() error {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.closed = true
	buf.cond.Broadcast()
	return nil
}

func NewBuffer(size int) *Buffer {
	b := &Buffer{
		b: ringbuffer.New(size),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

var _ io.ReadWriteCloser = &Buffer{}
