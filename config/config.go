package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/proto"
)

const (
	BackendPortAudio = "portaudio"
	BackendPipe      = "pipe"
)

type Config struct {
	Ingest   IngestConfig   `yaml:"ingest"`
	Audio    AudioConfig    `yaml:"audio"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Recorder RecorderConfig `yaml:"recorder"`
	Log      LogConfig      `yaml:"log"`
}

type IngestConfig struct {
	Port              int  `yaml:"port"`
	ReceiveBufferSize int  `yaml:"receive_buffer_size"`
	SocketBuffer      int  `yaml:"socket_buffer"`
	ReuseAddr         bool `yaml:"reuse_addr"`
}

type AudioConfig struct {
	Backend         string        `yaml:"backend"`
	Device          string        `yaml:"device"`
	SampleRate      int           `yaml:"sample_rate"`
	Channels        int           `yaml:"channels"`
	FramesPerBuffer int           `yaml:"frames_per_buffer"`
	Latency         time.Duration `yaml:"latency"`
}

type BufferConfig struct {
	MetricsWindow int `yaml:"metrics_window"`
}

type MetricsConfig struct {
	// Addr of the /metrics and /ws listener. Empty disables it.
	Addr             string        `yaml:"addr"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type RecorderConfig struct {
	// Path of the SQLite recording. Empty disables recording.
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", fpgaudio.ErrValidation, path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Ingest.Port == 0 {
		c.Ingest.Port = 6000
	}
	if c.Ingest.ReceiveBufferSize == 0 {
		c.Ingest.ReceiveBufferSize = fpgaudio.DefaultReceiveBufferSize
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = BackendPortAudio
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 2
	}
	if c.Audio.FramesPerBuffer == 0 {
		c.Audio.FramesPerBuffer = 256
	}
	if c.Buffer.MetricsWindow == 0 {
		c.Buffer.MetricsWindow = fpgaudio.DefaultMetricsWindow
	}
	if c.Metrics.SnapshotInterval == 0 {
		c.Metrics.SnapshotInterval = 50 * time.Millisecond
	}
	if c.Recorder.Interval == 0 {
		c.Recorder.Interval = 100 * time.Millisecond
	}
	if c.Recorder.Batch == 0 {
		c.Recorder.Batch = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports the first invalid setting, wrapped in fpgaudio.ErrValidation.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", fpgaudio.ErrValidation, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Ingest.Port < 0 || c.Ingest.Port > 65535 {
		return fmt.Errorf("ingest.port %d out of range", c.Ingest.Port)
	}
	if c.Ingest.ReceiveBufferSize <= proto.RecordSize {
		return fmt.Errorf("ingest.receive_buffer_size must exceed %d bytes", proto.RecordSize)
	}
	if c.Ingest.SocketBuffer < 0 {
		return fmt.Errorf("ingest.socket_buffer must not be negative")
	}
	switch c.Audio.Backend {
	case BackendPortAudio, BackendPipe:
	default:
		return fmt.Errorf("audio.backend %q is not one of %s, %s", c.Audio.Backend, BackendPortAudio, BackendPipe)
	}
	if c.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.Audio.Channels < 0 {
		return fmt.Errorf("audio.channels must be positive")
	}
	if c.Audio.FramesPerBuffer < 0 {
		return fmt.Errorf("audio.frames_per_buffer must be positive")
	}
	if c.Buffer.MetricsWindow < 0 {
		return fmt.Errorf("buffer.metrics_window must be positive")
	}
	if c.Recorder.Batch < 0 {
		return fmt.Errorf("recorder.batch must be positive")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// LogLevel returns the parsed log.level. It is only meaningful on a validated Config.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Log.Level))
	return level
}
