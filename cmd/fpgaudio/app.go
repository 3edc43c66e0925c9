package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/audio"
	"github.com/fpgaudio/fpgaudio-demo/config"
	"github.com/fpgaudio/fpgaudio-demo/monitor"
	"github.com/fpgaudio/fpgaudio-demo/proto"
	"github.com/fpgaudio/fpgaudio-demo/recorder"
	"github.com/fpgaudio/fpgaudio-demo/synth"
	"github.com/fpgaudio/fpgaudio-demo/transport/pipe"
)

const shutdownTimeout = 5 * time.Second

// app wires the ingestion loop, the exchange cell and the audio output together.
type app struct {
	cfg *config.Config
	// pcm receives the pipe backend's output. nil discards it.
	pcm io.Writer
	// ready is called once the ingestion socket and the monitor listener are bound.
	ready func(ingestPort, monitorPort int)
}

func (a *app) run(ctx context.Context) error {
	logger := slog.Default().With(slog.String("component", "app"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := monitor.NewMetrics(reg)

	box := fpgaudio.NewLockbox(proto.ControlRecord{})
	publish := []fpgaudio.PublishFunc{fpgaudio.LockboxPublisher(box)}

	var (
		buf *fpgaudio.SyncBuffer[fpgaudio.Sample]
		rec *recorder.Recorder
	)
	if a.cfg.Recorder.Path != "" {
		var err error
		rec, err = recorder.Open(a.cfg.Recorder.Path,
			recorder.WithLogger(slog.Default()),
			recorder.WithOnPersist(metrics.RecordsPersisted),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", fpgaudio.ErrResourceAcquisition, err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("failed to close recording", slog.Any("err", err))
			}
		}()

		buf = fpgaudio.NewSyncBuffer[fpgaudio.Sample](
			fpgaudio.WithMetricsWindow(a.cfg.Buffer.MetricsWindow),
			fpgaudio.WithBufferObserver(metrics.BufferObserver()),
			fpgaudio.WithBufferLogger(slog.Default().With(slog.String("component", "buffer"))),
		)
		publish = append(publish, fpgaudio.BufferPublisher(buf))
	}

	sink := fpgaudio.NewRecordSink(metrics.RecordSinkConfig(fpgaudio.RecordSinkConfig{}), publish...)

	srv, err := fpgaudio.Listen(ctx, a.cfg.Ingest.Port, sink,
		fpgaudio.WithServerLogger(slog.Default()),
		fpgaudio.WithReceiveBufferSize(a.cfg.Ingest.ReceiveBufferSize),
		fpgaudio.WithSocketBuffer(a.cfg.Ingest.SocketBuffer),
		fpgaudio.WithReuseAddr(a.cfg.Ingest.ReuseAddr),
	)
	if err != nil {
		return err
	}

	out, err := a.newOutput()
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}

	var mon *monitor.Server
	if a.cfg.Metrics.Addr != "" {
		mon = monitor.NewServer(monitor.ServerConfig{
			Addr:     a.cfg.Metrics.Addr,
			Interval: a.cfg.Metrics.SnapshotInterval,
		}, reg, box.Get)
		if err := mon.Run(ctx); err != nil {
			_ = srv.Shutdown(context.Background())
			_ = out.Close()
			return fmt.Errorf("%w: monitor: %w", fpgaudio.ErrResourceAcquisition, err)
		}
	}

	if a.ready != nil {
		monitorPort := 0
		if mon != nil {
			monitorPort = mon.Port()
		}
		a.ready(srv.Port(), monitorPort)
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)
	spawn := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				logger.Error("worker failed", slog.String("worker", name), slog.Any("err", err))
				errs <- err
				cancel()
			}
		}()
	}

	spawn("ingest", func() error { return srv.Begin(ctx) })
	// the recorder outlives the ingestion loop so its final flush sees every published sample
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()
	if rec != nil {
		spawn("recorder", func() error {
			return rec.Drain(recCtx, buf, a.cfg.Recorder.Interval, a.cfg.Recorder.Batch)
		})
	}
	if p, ok := out.(*pipe.Output); ok {
		dst := a.pcm
		if dst == nil {
			dst = io.Discard
		}
		spawn("pcm", func() error {
			return audio.Copy(ctx, dst, p, a.cfg.Audio.FramesPerBuffer*p.BytesPerFrame())
		})
	}

	renderer := fpgaudio.NewRenderer(box, synth.NewVoice(), fpgaudio.WithFramesObserver(metrics.FramesRendered))

	logger.Info("running",
		slog.Int("port", srv.Port()),
		slog.String("backend", a.cfg.Audio.Backend),
		slog.Bool("recording", rec != nil),
	)

	playErr := fpgaudio.Play(ctx, out, renderer.Write)
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("ingest shutdown: %w", err))
	}
	stopRecorder()
	if mon != nil {
		if err := mon.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("monitor shutdown: %w", err))
		}
	}

	wg.Wait()
	close(errs)

	workerErrs := []error{playErr, shutdownErr}
	for err := range errs {
		workerErrs = append(workerErrs, err)
	}

	logger.Info("stopped")
	return errors.Join(workerErrs...)
}

func (a *app) newOutput() (fpgaudio.Output, error) {
	switch a.cfg.Audio.Backend {
	case config.BackendPipe:
		return pipe.New(pipe.Config{
			SampleRate:      a.cfg.Audio.SampleRate,
			Channels:        a.cfg.Audio.Channels,
			FramesPerBuffer: a.cfg.Audio.FramesPerBuffer,
		}), nil
	case config.BackendPortAudio:
		return newPortAudioOutput(a.cfg.Audio)
	default:
		return nil, fmt.Errorf("%w: unknown audio backend %q", fpgaudio.ErrValidation, a.cfg.Audio.Backend)
	}
}
