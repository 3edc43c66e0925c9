// Package recorder persists received control records to SQLite and reads them back for replay.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/proto"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	received_at  INTEGER NOT NULL,
	distance     REAL NOT NULL,
	index_angle  REAL NOT NULL,
	middle_angle REAL NOT NULL,
	ring_angle   REAL NOT NULL,
	pinky_angle  REAL NOT NULL
)`

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultBatch    = 256
)

type options struct {
	logger    *slog.Logger
	onPersist func(n int)
}

type Option func(opts *options)

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithOnPersist is called with the number of samples of every committed batch.
func WithOnPersist(f func(n int)) Option {
	return func(opts *options) {
		opts.onPersist = f
	}
}

type Recorder struct {
	db        *sql.DB
	logger    *slog.Logger
	onPersist func(n int)
}

// Open opens or creates the recording at path.
func Open(path string, opts ...Option) (*Recorder, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	// one connection, so a :memory: database is a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: create schema: %w", err)
	}

	return &Recorder{
		db: db,
		logger: o.logger.With(
			slog.String("component", "recorder"),
			slog.String("path", path),
		),
		onPersist: o.onPersist,
	}, nil
}

// Append stores samples in a single transaction.
func (r *Recorder) Append(ctx context.Context, samples ...fpgaudio.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO samples (received_at, distance, index_angle, middle_angle, ring_angle, pinky_angle) VALUES ")

	args := make([]any, 0, len(samples)*6)
	for i, s := range samples {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?,?,?,?,?,?)")
		args = append(args,
			s.ReceivedAt.UnixNano(),
			s.Record.Distance,
			s.Record.IndexAngle,
			s.Record.MiddleAngle,
			s.Record.RingAngle,
			s.Record.PinkyAngle,
		)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recorder: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recorder: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recorder: commit: %w", err)
	}

	if r.onPersist != nil {
		r.onPersist(len(samples))
	}
	return nil
}

// Each calls fn for every stored sample in arrival order. A non-nil error from fn stops the
// iteration and is returned.
func (r *Recorder) Each(ctx context.Context, fn func(s fpgaudio.Sample) error) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT received_at, distance, index_angle, middle_angle, ring_angle, pinky_angle FROM samples ORDER BY id")
	if err != nil {
		return fmt.Errorf("recorder: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ns  int64
			rec proto.ControlRecord
		)
		if err := rows.Scan(&ns, &rec.Distance, &rec.IndexAngle, &rec.MiddleAngle, &rec.RingAngle, &rec.PinkyAngle); err != nil {
			return fmt.Errorf("recorder: scan: %w", err)
		}
		if err := fn(fpgaudio.Sample{ReceivedAt: time.Unix(0, ns), Record: rec}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Recorder) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&n); err != nil {
		return 0, fmt.Errorf("recorder: count: %w", err)
	}
	return n, nil
}

// Drain polls buf every interval and persists up to batch samples per transaction until ctx is
// done. Whatever is still buffered at that point is flushed before returning.
func (r *Recorder) Drain(ctx context.Context, buf *fpgaudio.SyncBuffer[fpgaudio.Sample], interval time.Duration, batch int) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batch <= 0 {
		batch = DefaultBatch
	}

	r.logger.Info("recording", slog.Duration("interval", interval), slog.Int("batch", batch))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := r.flush(context.WithoutCancel(ctx), buf, batch)
			r.logger.Info("recording stopped", slog.Any("err", err))
			return err
		case <-ticker.C:
			if err := r.flush(ctx, buf, batch); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
		}
	}
}

// flush empties buf. It is the only reader, so Len never shrinks underneath it.
func (r *Recorder) flush(ctx context.Context, buf *fpgaudio.SyncBuffer[fpgaudio.Sample], batch int) error {
	for {
		n := min(buf.Len(), batch)
		if n == 0 {
			return nil
		}
		samples, err := buf.Read(n)
		if err != nil {
			return err
		}
		if err := r.Append(ctx, samples...); err != nil {
			return err
		}
	}
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
