package fpgaudio

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSyncBufferFIFO(t *testing.T) {
	b := NewSyncBuffer[int]()

	b.Write(1, 2, 3)
	b.Write()
	b.Write(4, 5)
	require.Equal(t, 5, b.Len())

	got, err := b.Read(2)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)

	rest, err := b.Read(b.Len())
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, rest)
	require.Zero(t, b.Len())
}

func TestSyncBufferUnderflow(t *testing.T) {
	var underflows int
	b := NewSyncBuffer[string](WithBufferObserver(BufferObserver{
		OnUnderflow: func(requested, size int) {
			underflows++
			require.Equal(t, 3, requested)
			require.Equal(t, 2, size)
		},
	}))
	b.Write("a", "b")
	before := b.Metrics()

	got, err := b.Read(3)
	require.ErrorIs(t, err, ErrUnderflow)
	require.Nil(t, got)

	var uerr *UnderflowError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, 3, uerr.Requested)
	require.Equal(t, 2, uerr.Available)

	require.Equal(t, 2, b.Len())
	require.Equal(t, before, b.Metrics(), "failed read records no metrics")
	require.Equal(t, 1, underflows)

	dst := []string{"x", "y", "z"}
	require.ErrorIs(t, b.ReadInto(dst), ErrUnderflow)
	require.Equal(t, []string{"x", "y", "z"}, dst)

	all, err := b.Read(2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, all)
}

func TestSyncBufferInvalidCount(t *testing.T) {
	b := NewSyncBuffer[int]()
	_, err := b.Read(-1)
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestSyncBufferMetrics(t *testing.T) {
	var observed []int
	b := NewSyncBuffer[int](
		WithMetricsWindow(4),
		WithBufferObserver(BufferObserver{
			OnWrite: func(n, size int) { observed = append(observed, size) },
			OnRead:  func(n, size int) { observed = append(observed, size) },
		}),
	)

	ops := []struct {
		write []int
		read  int
		size  int
	}{
		{write: []int{1, 2, 3}, size: 3},
		{read: 1, size: 2},
		{write: []int{4}, size: 3},
		{read: 3, size: 0},
		{write: []int{5, 6}, size: 2},
		{read: 0, size: 2},
	}

	for _, op := range ops {
		if op.write != nil {
			b.Write(op.write...)
		} else {
			_, err := b.Read(op.read)
			require.NoError(t, err)
		}
		m := b.Metrics()
		require.Equal(t, op.size, m[len(m)-1])
		require.LessOrEqual(t, len(m), 4)
	}

	require.Equal(t, []int{3, 0, 2, 2}, b.Metrics())
	require.Equal(t, []int{3, 2, 3, 0, 2, 2}, observed)
	require.InDelta(t, 7.0/4.0, b.MeanSize(), 1e-9)
}

func TestSyncBufferConcurrentOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		producers = 4
		batches   = 500
		batchLen  = 3
	)

	b := NewSyncBuffer[[2]int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			seq := 0
			for i := 0; i < batches; i++ {
				batch := make([][2]int, batchLen)
				for j := range batch {
					batch[j] = [2]int{p, seq}
					seq++
				}
				b.Write(batch...)
			}
		}(p)
	}

	total := producers * batches * batchLen
	var got [][2]int
	for len(got) < total {
		n := min(b.Len(), 7)
		items, err := b.Read(n)
		require.NoError(t, err)
		got = append(got, items...)
	}
	wg.Wait()

	// per-producer order survives interleaving and batches stay contiguous
	next := make([]int, producers)
	for i, it := range got {
		require.Equal(t, next[it[0]], it[1])
		next[it[0]]++
		if it[1]%batchLen != 0 {
			require.Equal(t, it[0], got[i-1][0], "batch split at %d", i)
		}
	}
}

// captureHandler keeps every record it handles.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// sizes returns the size attribute of every debug record.
func (h *captureHandler) sizes(t *testing.T) []int64 {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []int64
	for _, r := range h.records {
		require.Equal(t, slog.LevelDebug, r.Level)
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "size" {
				out = append(out, a.Value.Int64())
			}
			return true
		})
	}
	return out
}

func TestSyncBufferLogsSizes(t *testing.T) {
	h := &captureHandler{}
	b := NewSyncBuffer[int](WithBufferLogger(slog.New(h)))

	b.Write(1, 2, 3)
	_, err := b.Read(2)
	require.NoError(t, err)

	_, err = b.Read(5)
	require.ErrorIs(t, err, ErrUnderflow)
	_, err = b.Read(-1)
	require.ErrorIs(t, err, ErrInvalidCount)

	_, err = b.Read(0)
	require.NoError(t, err)
	b.Write(4)

	require.Equal(t, []int64{3, 1, 1, 2}, h.sizes(t), "one entry per successful operation")
}
