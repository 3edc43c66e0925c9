package fpgaudio

import (
	"github.com/eapache/queue"
)

const DefaultMetricsWindow = 10

// MetricsWindow keeps the last k observed buffer sizes, oldest first.
// It is not safe for concurrent use; SyncBuffer guards it with its own lock.
type MetricsWindow struct {
	q   *queue.Queue
	cap int
}

func NewMetricsWindow(k int) *MetricsWindow {
	if k < 1 {
		k = 1
	}
	return &MetricsWindow{q: queue.New(), cap: k}
}

func (w *MetricsWindow) Observe(size int) {
	w.q.Add(size)
	for w.q.Length() > w.cap {
		w.q.Remove()
	}
}

func (w *MetricsWindow) Len() int {
	return w.q.Length()
}

func (w *MetricsWindow) Cap() int {
	return w.cap
}

// Last returns the most recent observation.
func (w *MetricsWindow) Last() (int, bool) {
	if w.q.Length() == 0 {
		return 0, false
	}
	return w.q.Get(-1).(int), true
}

func (w *MetricsWindow) Snapshot() []int {
	out := make([]int, w.q.Length())
	for i := range out {
		out[i] = w.q.Get(i).(int)
	}
	return out
}

// Mean is the rolling average size over the window, 0 when empty.
func (w *MetricsWindow) Mean() float64 {
	n := w.q.Length()
	if n == 0 {
		return 0
	}
	var sum int
	for i := 0; i < n; i++ {
		sum += w.q.Get(i).(int)
	}
	return float64(sum) / float64(n)
}
