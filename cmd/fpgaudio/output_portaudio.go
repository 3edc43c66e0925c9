//go:build !noportaudio

package main

import (
	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/config"
	"github.com/fpgaudio/fpgaudio-demo/transport/portaudio"
)

func newPortAudioOutput(cfg config.AudioConfig) (fpgaudio.Output, error) {
	return portaudio.New(portaudio.Config{
		Device:          cfg.Device,
		SampleRate:      float64(cfg.SampleRate),
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
		Latency:         cfg.Latency,
	})
}

func listDevices() ([]string, error) {
	return portaudio.Devices()
}
