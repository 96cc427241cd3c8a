package device

import (
	"errors"
	"fmt"
)

// Arena owns every buffer allocated through it and frees them together.
// Release is safe to defer on every exit path.
type Arena struct {
	dev  Device
	bufs []Buffer
	size int64
}

func NewArena(dev Device) *Arena {
	return &Arena{dev: dev}
}

func (a *Arena) Device() Device {
	return a.dev
}

func (a *Arena) Alloc(bytes int64) (Buffer, error) {
	b, err := a.dev.Alloc(bytes)
	if err != nil {
		return nil, fmt.Errorf("alloc %d bytes on %s: %w", bytes, a.dev.Name(), err)
	}
	a.bufs = append(a.bufs, b)
	a.size += bytes
	return b, nil
}

// AllocFrom allocates len(src) bytes and uploads src.
func (a *Arena) AllocFrom(src []byte) (Buffer, error) {
	b, err := a.Alloc(int64(len(src)))
	if err != nil {
		return nil, err
	}
	if err := a.dev.Upload(b, src); err != nil {
		return nil, fmt.Errorf("upload %d bytes: %w", len(src), err)
	}
	return b, nil
}

// Size is the total bytes allocated and not yet released.
func (a *Arena) Size() int64 {
	return a.size
}

// Release frees buffers in reverse allocation order. Every buffer is
// attempted; failures are joined.
func (a *Arena) Release() error {
	var errs []error
	for i := len(a.bufs) - 1; i >= 0; i-- {
		if err := a.bufs[i].Free(); err != nil {
			errs = append(errs, err)
		}
	}
	a.bufs = nil
	a.size = 0
	return errors.Join(errs...)
}
