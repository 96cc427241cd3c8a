//go:build cuda

// Package cuda implements device.Device over the CUDA runtime. All work is
// issued on one stream owned by the Device.
package cuda

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/device/cuda/native"
)

type Device struct {
	ordinal int
	stream  native.Stream
	blas    native.BlasHandle

	mu   sync.Mutex
	live map[*Buffer]struct{}
}

func New(ordinal int) (*Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda devices detected")
	}
	if ordinal < 0 || ordinal >= count {
		return nil, fmt.Errorf("cuda device %d out of range (have %d)", ordinal, count)
	}
	if err := native.SetDevice(ordinal); err != nil {
		return nil, fmt.Errorf("cuda set device %d: %w", ordinal, err)
	}
	stream, err := native.NewStream()
	if err != nil {
		return nil, fmt.Errorf("cuda stream create failed: %w", err)
	}
	blas, err := native.NewBlasHandle(stream)
	if err != nil {
		_ = stream.Destroy()
		return nil, fmt.Errorf("cublas init failed: %w", err)
	}
	return &Device{ordinal: ordinal, stream: stream, blas: blas, live: make(map[*Buffer]struct{})}, nil
}

func (d *Device) Name() string {
	return fmt.Sprintf("cuda:%d", d.ordinal)
}

func (d *Device) Stream() native.Stream {
	return d.stream
}

func (d *Device) Blas() native.BlasHandle {
	return d.blas
}

func (d *Device) Alloc(bytes int64) (device.Buffer, error) {
	raw, err := native.AllocDevice(bytes)
	if err != nil {
		return nil, err
	}
	// Zeroed so accumulate-into-output kernels start from a known state.
	if err := native.Memset(raw, 0, bytes); err != nil {
		_ = raw.Free()
		return nil, err
	}
	b := &Buffer{dev: d, raw: raw}
	d.mu.Lock()
	d.live[b] = struct{}{}
	d.mu.Unlock()
	return b, nil
}

func (d *Device) Upload(dst device.Buffer, src []byte) error {
	b, err := d.own(dst)
	if err != nil {
		return err
	}
	if int64(len(src)) > b.Size() {
		return fmt.Errorf("upload of %d bytes exceeds buffer of %d bytes", len(src), b.Size())
	}
	if len(src) == 0 {
		return nil
	}
	return native.MemcpyH2D(b.raw, unsafe.Pointer(&src[0]), int64(len(src)))
}

func (d *Device) Download(dst []byte, src device.Buffer) error {
	b, err := d.own(src)
	if err != nil {
		return err
	}
	if int64(len(dst)) > b.Size() {
		return fmt.Errorf("download of %d bytes exceeds buffer of %d bytes", len(dst), b.Size())
	}
	if len(dst) == 0 {
		return nil
	}
	if err := d.stream.Synchronize(); err != nil {
		return err
	}
	return native.MemcpyD2H(unsafe.Pointer(&dst[0]), b.raw, int64(len(dst)))
}

func (d *Device) Synchronize() error {
	return d.stream.Synchronize()
}

func (d *Device) Close() error {
	d.mu.Lock()
	leaked := make([]*Buffer, 0, len(d.live))
	for b := range d.live {
		leaked = append(leaked, b)
	}
	d.mu.Unlock()

	var errs []error
	for _, b := range leaked {
		errs = append(errs, b.Free())
	}
	if len(leaked) > 0 {
		errs = append(errs, fmt.Errorf("%d cuda buffers still live at close", len(leaked)))
	}
	errs = append(errs, d.blas.Destroy(), d.stream.Destroy())
	return errors.Join(errs...)
}

func (d *Device) own(buf device.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b.dev != d {
		return nil, device.ErrForeignBuffer
	}
	d.mu.Lock()
	_, live := d.live[b]
	d.mu.Unlock()
	if !live {
		return nil, device.ErrFreed
	}
	return b, nil
}

type Buffer struct {
	dev *Device
	raw native.DeviceBuffer
}

func (b *Buffer) Size() int64 {
	return b.raw.Size()
}

// Native exposes the raw allocation to cuBLAS callers.
func (b *Buffer) Native() native.DeviceBuffer {
	return b.raw
}

func (b *Buffer) Free() error {
	d := b.dev
	d.mu.Lock()
	if _, ok := d.live[b]; !ok {
		d.mu.Unlock()
		return device.ErrFreed
	}
	delete(d.live, b)
	d.mu.Unlock()
	return b.raw.Free()
}

// Timer brackets kernel launches on the device stream with CUDA events.
type Timer struct {
	stream     native.Stream
	start, end native.Event
}

func (d *Device) NewTimer() (*Timer, error) {
	start, err := native.NewEvent()
	if err != nil {
		return nil, err
	}
	end, err := native.NewEvent()
	if err != nil {
		_ = start.Destroy()
		return nil, err
	}
	return &Timer{stream: d.stream, start: start, end: end}, nil
}

func (t *Timer) Start() error {
	return t.start.Record(t.stream)
}

// Stop records the end event, waits for it and returns elapsed ms.
func (t *Timer) Stop() (float64, error) {
	if err := t.end.Record(t.stream); err != nil {
		return 0, err
	}
	if err := t.end.Synchronize(); err != nil {
		return 0, err
	}
	return native.ElapsedMs(t.start, t.end)
}

func (t *Timer) Close() error {
	return errors.Join(t.start.Destroy(), t.end.Destroy())
}
