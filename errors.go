package fpgaudio

import (
	"fmt"
)

var (
	ErrResourceAcquisition = fmt.Errorf("resource: acquisition failed")
	ErrTransport           = fmt.Errorf("transport: stream failed")
	ErrValidation          = fmt.Errorf("validation failed")
	ErrUnderflow           = fmt.Errorf("buffer: underflow")
	ErrInvalidCount        = fmt.Errorf("buffer: invalid count")
	ErrServerStarted       = fmt.Errorf("server: already started")
)

// UnderflowError is returned by SyncBuffer reads that ask for more elements than are held.
type UnderflowError struct {
	Requested int
	Available int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("%s: requested %d, available %d", ErrUnderflow, e.Requested, e.Available)
}

func (e *UnderflowError) Is(target error) bool {
	return target == ErrUnderflow
}
