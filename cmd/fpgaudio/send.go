package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/proto"
)

// parseRecord parses "distance,index,middle,ring,pinky".
func parseRecord(s string) (proto.ControlRecord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return proto.ControlRecord{}, fmt.Errorf("%w: want 5 comma separated values, got %d", fpgaudio.ErrValidation, len(parts))
	}

	var v [5]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return proto.ControlRecord{}, fmt.Errorf("%w: value %d: %w", fpgaudio.ErrValidation, i, err)
		}
		v[i] = float32(f)
	}

	return proto.ControlRecord{
		Distance:    v[0],
		IndexAngle:  v[1],
		MiddleAngle: v[2],
		RingAngle:   v[3],
		PinkyAngle:  v[4],
	}, nil
}

func dialRecords(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", fpgaudio.ErrTransport, addr, err)
	}
	return conn, nil
}

func sendRecord(conn net.Conn, rec proto.ControlRecord) error {
	p, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("%w: send: %w", fpgaudio.ErrTransport, err)
	}
	return nil
}

func sendCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:6000", "address of the receiving bridge")
	values := fs.String("values", "0,0,0,0,0", "distance,index,middle,ring,pinky")
	count := fs.Int("count", 1, "number of datagrams to send")
	interval := fs.Duration("interval", 10*time.Millisecond, "delay between datagrams")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rec, err := parseRecord(*values)
	if err != nil {
		return err
	}

	conn, err := dialRecords(ctx, *addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := range *count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(*interval):
			}
		}
		if err := sendRecord(conn, rec); err != nil {
			return err
		}
	}

	slog.Info("sent", slog.String("addr", *addr), slog.Int("count", *count), slog.Any("record", rec))
	return nil
}
