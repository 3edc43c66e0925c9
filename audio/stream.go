package audio

import (
	"context"
	"errors"
	"io"
)

// Copy moves PCM from src to dst in chunks of size bytes until src is drained or ctx is done.
// A blocked src.Read is only interrupted by closing src.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, size int) error {
	buf := make([]byte, size)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
