package fpgaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Output is an audio output stream. Implementations acquire their native resources in their
// constructor and release all of them in Close, which is safe to call on any path.
type Output interface {
	// Open registers the write callback and allocates the stream.
	Open(cb WriteCallback) error
	Start() error
	Stop() error
	Close() error
	// Errors delivers fatal stream errors raised on the audio thread.
	Errors() <-chan error
}

// Play opens and starts out, then waits until ctx is done or the stream fails.
// The stream is stopped and closed on every path.
func Play(ctx context.Context, out Output, cb WriteCallback) (err error) {
	logger := slog.Default().With(slog.String("component", "playback"))

	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Error("failed to close output", slog.Any("err", cerr))
			if err == nil {
				err = fmt.Errorf("%w: close: %w", ErrTransport, cerr)
			}
		}
	}()

	if err := out.Open(cb); err != nil {
		return wrapTransport("could not open the stream", err)
	}
	if err := out.Start(); err != nil {
		return wrapTransport("unable to start writing to the stream", err)
	}

	logger.Info("stream started")

	var streamErr error
	select {
	case <-ctx.Done():
	case streamErr = <-out.Errors():
		logger.Error("stream failed", slog.Any("err", streamErr))
	}

	if serr := out.Stop(); serr != nil {
		logger.Error("failed to stop output", slog.Any("err", serr))
		if streamErr == nil {
			streamErr = serr
		}
	}

	if streamErr != nil {
		return wrapTransport("stream", streamErr)
	}

	logger.Info("stream stopped")
	return nil
}

func wrapTransport(msg string, err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrResourceAcquisition) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, msg, err)
}
