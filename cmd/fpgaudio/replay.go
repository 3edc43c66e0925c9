package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"time"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/recorder"
)

// replay re-sends every recorded sample, keeping the recorded inter-arrival gaps.
func replay(ctx context.Context, rec *recorder.Recorder, conn net.Conn, speed float64) (int, error) {
	var (
		sent int
		prev time.Time
	)
	err := rec.Each(ctx, func(s fpgaudio.Sample) error {
		if !prev.IsZero() {
			gap := time.Duration(float64(s.ReceivedAt.Sub(prev)) / speed)
			if gap > 0 {
				t := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		prev = s.ReceivedAt

		if err := sendRecord(conn, s.Record); err != nil {
			return err
		}
		sent++
		return nil
	})
	return sent, err
}

func replayCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	db := fs.String("db", "recording.sqlite", "recording to replay")
	addr := fs.String("addr", "127.0.0.1:6000", "address of the receiving bridge")
	speed := fs.Float64("speed", 1, "playback speed factor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *speed <= 0 {
		return fmt.Errorf("%w: speed must be positive", fpgaudio.ErrValidation)
	}

	rec, err := recorder.Open(*db)
	if err != nil {
		return err
	}
	defer rec.Close()

	conn, err := dialRecords(ctx, *addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	sent, err := replay(ctx, rec, conn, *speed)
	slog.Info("replayed", slog.String("db", *db), slog.Int("sent", sent))
	if ctx.Err() != nil {
		return nil
	}
	return err
}
