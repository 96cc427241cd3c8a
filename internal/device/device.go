// Package device is the memory contract kernels run against: allocation,
// host transfers and synchronization. The host implementation lives here;
// the CUDA one is in device/cuda behind the cuda build tag.
package device

import (
	"errors"
	"fmt"
)

var (
	ErrFreed         = errors.New("buffer already freed")
	ErrForeignBuffer = errors.New("buffer belongs to another device")
	ErrClosed        = errors.New("device closed")
)

// Buffer is one device allocation.
type Buffer interface {
	Size() int64
	Free() error
}

type Device interface {
	Name() string
	Alloc(bytes int64) (Buffer, error)
	// Upload copies src into the start of dst.
	Upload(dst Buffer, src []byte) error
	// Download copies the start of src into dst.
	Download(dst []byte, src Buffer) error
	// Synchronize blocks until queued work has completed.
	Synchronize() error
	Close() error
}

func checkCopy(n int, b Buffer) error {
	if int64(n) > b.Size() {
		return fmt.Errorf("copy of %d bytes exceeds buffer of %d bytes", n, b.Size())
	}
	return nil
}
