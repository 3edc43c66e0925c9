package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fpgaudio/fpgaudio-demo/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(ctx, os.Args[2:])
	case "send":
		err = sendCommand(ctx, os.Args[2:])
	case "replay":
		err = replayCommand(ctx, os.Args[2:])
	case "devices":
		err = devicesCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		slog.Error("command failed", slog.String("command", cmd), slog.Any("err", err))
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `usage: fpgaudio <command> [flags]

commands:
  run       receive control records over UDP and render them to the audio output
  send      send one control record as a datagram
  replay    re-send a recording with its original timing
  devices   list audio output devices
  validate  check a configuration file
`)
}

func setupLogging(level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// loadConfig loads path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to configuration file")
	port := fs.Int("port", 0, "UDP port to receive control records on (overrides ingest.port)")
	backend := fs.String("backend", "", "audio backend: portaudio or pipe (overrides audio.backend)")
	device := fs.String("device", "", "output device name (overrides audio.device)")
	out := fs.String("out", "", "pipe backend PCM destination: - for stdout, a file path, or empty to discard")
	record := fs.String("record", "", "SQLite file to record received samples to (overrides recorder.path)")
	metricsAddr := fs.String("metrics-addr", "", "listen address for /metrics and /ws (overrides metrics.addr)")
	logLevel := fs.String("log-level", "", "log level (overrides log.level)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if *port != 0 {
		cfg.Ingest.Port = *port
	}
	if *backend != "" {
		cfg.Audio.Backend = *backend
	}
	if *device != "" {
		cfg.Audio.Device = *device
	}
	if *record != "" {
		cfg.Recorder.Path = *record
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogging(cfg.LogLevel(), cfg.Log.Format)

	a := &app{cfg: cfg}
	if cfg.Audio.Backend == config.BackendPipe {
		switch *out {
		case "":
		case "-":
			a.pcm = os.Stdout
		default:
			f, err := os.Create(*out)
			if err != nil {
				return fmt.Errorf("create pcm output: %w", err)
			}
			defer f.Close()
			a.pcm = f
		}
	}

	return a.run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	cfgPath := fs.String("config", "./config.yaml", "path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := config.Load(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func devicesCommand(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	names, err := listDevices()
	if err != nil {
		return err
	}

	fmt.Println("Available Devices:")
	for _, name := range names {
		fmt.Println(" ", name)
	}
	return nil
}
