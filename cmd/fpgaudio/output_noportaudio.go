//go:build noportaudio

package main

import (
	"fmt"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/config"
)

func newPortAudioOutput(config.AudioConfig) (fpgaudio.Output, error) {
	return nil, fmt.Errorf("%w: built without portaudio, use the pipe backend", fpgaudio.ErrResourceAcquisition)
}

func listDevices() ([]string, error) {
	return nil, fmt.Errorf("%w: built without portaudio", fpgaudio.ErrResourceAcquisition)
}
