// Package portaudio plays the write callback on a PortAudio output device.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/transport/planar"
)

type Config struct {
	// Device is the output device name, empty for the system default.
	Device          string
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	Latency         time.Duration
	Logger          *slog.Logger
}

func (c *Config) Defaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 48_000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Output owns the PortAudio library handle, the selected device and, once opened, the stream.
// All of them are released by Close, including after a failed Open or Start.
type Output struct {
	cfg    Config
	logger *slog.Logger
	device *portaudio.DeviceInfo
	stream *portaudio.Stream
	driver *planar.Driver

	closeOnce sync.Once
}

// New initializes PortAudio and selects the device. Failures wrap ErrResourceAcquisition.
func New(cfg Config) (*Output, error) {
	cfg.Defaults()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %w", fpgaudio.ErrResourceAcquisition, err)
	}

	dev, err := findDevice(cfg.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: output device: %w", fpgaudio.ErrResourceAcquisition, err)
	}

	if cfg.Channels == 0 {
		cfg.Channels = min(2, dev.MaxOutputChannels)
	}
	if cfg.Latency == 0 {
		cfg.Latency = dev.DefaultLowOutputLatency
	}

	o := &Output{
		cfg:    cfg,
		device: dev,
		logger: cfg.Logger.With(
			slog.String("component", "output"),
			slog.String("backend", "portaudio"),
			slog.String("device", dev.Name),
		),
	}

	o.logger.Info("using output device", slog.Int("channels", cfg.Channels), slog.Float64("sample_rate", cfg.SampleRate))
	return o, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no output device named %q", name)
}

// Devices lists the names of all devices able to play audio.
func Devices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

func (o *Output) Open(cb fpgaudio.WriteCallback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil write callback", fpgaudio.ErrTransport)
	}
	if o.stream != nil {
		return fmt.Errorf("%w: output already open", fpgaudio.ErrTransport)
	}
	o.driver = planar.NewDriver(o.cfg.Channels, cb)

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   o.device,
			Channels: o.cfg.Channels,
			Latency:  o.cfg.Latency,
		},
		SampleRate:      o.cfg.SampleRate,
		FramesPerBuffer: o.cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, o.driver.Process)
	if err != nil {
		return err
	}
	o.stream = stream
	return nil
}

func (o *Output) Start() error {
	if o.stream == nil {
		return fmt.Errorf("%w: output not open", fpgaudio.ErrTransport)
	}
	return o.stream.Start()
}

func (o *Output) Stop() error {
	if o.stream == nil {
		return nil
	}
	return o.stream.Stop()
}

func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if o.stream != nil {
			err = o.stream.Close()
		}
		if terr := portaudio.Terminate(); terr != nil && err == nil {
			err = terr
		}
	})
	return err
}

// Errors is nil until Open.
func (o *Output) Errors() <-chan error {
	if o.driver == nil {
		return nil
	}
	return o.driver.Errors()
}

var _ fpgaudio.Output = &Output{}
