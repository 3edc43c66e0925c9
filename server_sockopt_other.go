//go:build !unix

package fpgaudio

func setReuseAddr(_ uintptr) error {
	return nil
}
