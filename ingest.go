package fpgaudio

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fpgaudio/fpgaudio-demo/proto"
)

// Sample is a decoded record stamped with its arrival time.
type Sample struct {
	ReceivedAt time.Time
	Record     proto.ControlRecord
}

// PublishFunc hands a decoded record to one consumption path.
type PublishFunc func(rec proto.ControlRecord)

// LockboxPublisher publishes into the latest-value cell read by the audio callback.
func LockboxPublisher(lb *Lockbox[proto.ControlRecord]) PublishFunc {
	return lb.Set
}

// BufferPublisher queues every record, with its arrival time, for in-order consumers.
func BufferPublisher(buf *SyncBuffer[Sample]) PublishFunc {
	return func(rec proto.ControlRecord) {
		buf.Write(Sample{ReceivedAt: time.Now(), Record: rec})
	}
}

type RecordSinkConfig struct {
	Logger *slog.Logger

	// OnAccept is called for every valid record, before it is published.
	OnAccept func(rec proto.ControlRecord)
	// OnReject is called for every dropped datagram. err matches ErrValidation.
	OnReject func(size int, err error)
}

// RecordSink validates datagrams as ControlRecords and publishes the valid ones.
// Invalid datagrams are logged and dropped without touching any consumer.
type RecordSink struct {
	logger   *slog.Logger
	onAccept func(rec proto.ControlRecord)
	onReject func(size int, err error)
	publish  []PublishFunc
}

func NewRecordSink(config RecordSinkConfig, publish ...PublishFunc) *RecordSink {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RecordSink{
		logger:   logger.With(slog.String("component", "record_sink")),
		onAccept: config.OnAccept,
		onReject: config.OnReject,
		publish:  publish,
	}
}

func (s *RecordSink) HandleDatagram(p []byte) {
	rec, err := proto.DecodeRecord(p)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrValidation, err)
		s.logger.Warn("received corrupted data, ignoring", slog.Int("len", len(p)), slog.Any("err", err))
		if s.onReject != nil {
			s.onReject(len(p), err)
		}
		return
	}

	if s.onAccept != nil {
		s.onAccept(rec)
	}
	for _, f := range s.publish {
		f(rec)
	}
}

var _ DatagramSink = &RecordSink{}
