package fpgaudio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// BufferObserver receives the buffer size after every successful operation and on underflow.
// Hooks run inside the buffer's critical section and must not block.
type BufferObserver struct {
	OnWrite     func(n, size int)
	OnRead      func(n, size int)
	OnUnderflow func(requested, size int)
}

type bufferOptions struct {
	window   int
	observer BufferObserver
	logger   *slog.Logger
}

type BufferOption func(opts *bufferOptions)

func WithMetricsWindow(k int) BufferOption {
	return func(opts *bufferOptions) {
		opts.window = k
	}
}

func WithBufferObserver(o BufferObserver) BufferOption {
	return func(opts *bufferOptions) {
		opts.observer = o
	}
}

// WithBufferLogger logs the buffer size at debug level after every operation.
func WithBufferLogger(logger *slog.Logger) BufferOption {
	return func(opts *bufferOptions) {
		opts.logger = logger
	}
}

// SyncBuffer is a FIFO shared between producers and consumers running at unrelated rates.
//
// Writes never block and never fail; the buffer is unbounded. Reads never wait for data:
// asking for more than is held fails with ErrUnderflow and leaves the buffer untouched, so
// consumers poll Len and read what is there.
type SyncBuffer[T any] struct {
	mu       sync.Mutex
	data     *queue.Queue
	window   *MetricsWindow
	observer BufferObserver
	logger   *slog.Logger
}

func NewSyncBuffer[T any](opts ...BufferOption) *SyncBuffer[T] {
	o := bufferOptions{window: DefaultMetricsWindow}
	for _, opt := range opts {
		opt(&o)
	}

	return &SyncBuffer[T]{
		data:     queue.New(),
		window:   NewMetricsWindow(o.window),
		observer: o.observer,
		logger:   o.logger,
	}
}

// Write appends items at the tail in order, as one step relative to other Reads and Writes.
func (b *SyncBuffer[T]) Write(items ...T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, it := range items {
		b.data.Add(it)
	}

	size := b.performMetrics()
	if b.observer.OnWrite != nil {
		b.observer.OnWrite(len(items), size)
	}
}

// Read removes and returns the n oldest elements.
func (b *SyncBuffer[T]) Read(n int) ([]T, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	out := make([]T, n)
	if err := b.ReadInto(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadInto fills dst with the len(dst) oldest elements.
// On underflow dst is left untouched.
func (b *SyncBuffer[T]) ReadInto(dst []T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.data.Length()
	if len(dst) > size {
		if b.observer.OnUnderflow != nil {
			b.observer.OnUnderflow(len(dst), size)
		}
		return &UnderflowError{Requested: len(dst), Available: size}
	}

	for i := range dst {
		dst[i] = b.data.Remove().(T)
	}

	size = b.performMetrics()
	if b.observer.OnRead != nil {
		b.observer.OnRead(len(dst), size)
	}
	return nil
}

func (b *SyncBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Length()
}

// Metrics returns the recent sizes, oldest first.
func (b *SyncBuffer[T]) Metrics() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window.Snapshot()
}

// MeanSize is the rolling average of the sizes in the metrics window.
func (b *SyncBuffer[T]) MeanSize() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window.Mean()
}

func (b *SyncBuffer[T]) performMetrics() int {
	size := b.data.Length()
	b.window.Observe(size)
	if b.logger != nil {
		b.logger.Debug("SyncBuffer", slog.Int("size", size))
	}
	return size
}
