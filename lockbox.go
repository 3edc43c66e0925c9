package fpgaudio

import "sync"

// Lockbox is a single slot shared between goroutines. The last Set wins and values that are
// never read are lost, which suits continuous control signals but not commands.
//
// A Lockbox must not be copied after first use.
type Lockbox[T any] struct {
	mu  sync.Mutex
	val T
}

// NewLockbox creates a Lockbox holding initial until the first Set.
func NewLockbox[T any](initial T) *Lockbox[T] {
	return &Lockbox[T]{val: initial}
}

func (l *Lockbox[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.val = v
}

func (l *Lockbox[T]) Get() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val
}
