package fpgaudio

import (
	"context"
	"testing"
	"time"

	"github.com/fpgaudio/fpgaudio-demo/proto"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRecordSinkPublishesValidRecords(t *testing.T) {
	var (
		lb       = NewLockbox(proto.ControlRecord{})
		buf      = NewSyncBuffer[Sample]()
		accepted int
		rec      = proto.ControlRecord{Distance: 1, IndexAngle: 2, MiddleAngle: 3, RingAngle: 4, PinkyAngle: 5}
	)

	sink := NewRecordSink(RecordSinkConfig{
		OnAccept: func(proto.ControlRecord) { accepted++ },
	}, LockboxPublisher(lb), BufferPublisher(buf))

	sink.HandleDatagram(encode(t, rec))

	require.Equal(t, rec, lb.Get())
	require.Equal(t, 1, accepted)

	samples, err := buf.Read(1)
	require.NoError(t, err)
	require.Equal(t, rec, samples[0].Record)
	require.WithinDuration(t, time.Now(), samples[0].ReceivedAt, time.Second)
}

func TestRecordSinkDropsInvalidLength(t *testing.T) {
	var (
		initial  = proto.ControlRecord{Distance: 42}
		lb       = NewLockbox(initial)
		buf      = NewSyncBuffer[Sample]()
		rejected []int
	)

	sink := NewRecordSink(RecordSinkConfig{
		OnReject: func(size int, err error) {
			require.ErrorIs(t, err, ErrValidation)
			require.ErrorIs(t, err, proto.ErrRecordLength)
			rejected = append(rejected, size)
		},
	}, LockboxPublisher(lb), BufferPublisher(buf))

	for _, n := range []int{0, 4, proto.RecordSize - 1, proto.RecordSize + 1} {
		sink.HandleDatagram(make([]byte, n))
	}

	require.Equal(t, []int{0, 4, proto.RecordSize - 1, proto.RecordSize + 1}, rejected)
	require.Equal(t, initial, lb.Get())
	require.Zero(t, buf.Len())
	require.Empty(t, buf.Metrics(), "no write reached the buffer")
}

func TestIngestEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		lb       = NewLockbox(proto.ControlRecord{})
		accepted = make(chan struct{}, 1)
		rejected = make(chan struct{}, 1)
		want     = proto.ControlRecord{Distance: 10, IndexAngle: 30, MiddleAngle: 90, RingAngle: 180, PinkyAngle: 45}
	)

	sink := NewRecordSink(RecordSinkConfig{
		OnAccept: func(proto.ControlRecord) { accepted <- struct{}{} },
		OnReject: func(int, error) { rejected <- struct{}{} },
	}, LockboxPublisher(lb))

	srv, err := Listen(ctx, 6000, sink)
	if err != nil {
		t.Skipf("port 6000 unavailable: %v", err)
	}
	result := begin(ctx, srv)

	conn := dial(t, 6000)

	data := encode(t, want)
	require.Len(t, data, 20)
	_, err = conn.Write(data)
	require.NoError(t, err)

	select {
	case <-accepted:
	case <-ctx.Done():
		t.Fatal("record not received")
	}
	require.Equal(t, want, lb.Get())

	_, err = conn.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	select {
	case <-rejected:
	case <-ctx.Done():
		t.Fatal("short datagram not seen")
	}
	require.Equal(t, want, lb.Get())

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-result)
}

func TestIngestIntoBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buf := NewSyncBuffer[Sample]()
	srv, err := Listen(ctx, 0, NewRecordSink(RecordSinkConfig{}, BufferPublisher(buf)))
	require.NoError(t, err)
	result := begin(ctx, srv)

	conn := dial(t, srv.Port())

	for i := 0; i < 5; i++ {
		_, err := conn.Write(encode(t, proto.ControlRecord{Distance: float32(i)}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return buf.Len() == 5 }, 2*time.Second, 5*time.Millisecond)

	samples, err := buf.Read(5)
	require.NoError(t, err)
	for i, s := range samples {
		require.Equal(t, float32(i), s.Record.Distance)
	}

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-result)
}
