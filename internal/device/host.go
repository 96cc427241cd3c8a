package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/samcharles93/kprof/internal/tensor"
)

// Host is a Device backed by Go memory. Kernels in kernels/host read
// buffers directly through HostBuffer.Bytes.
type Host struct {
	mu        sync.Mutex
	live      map[*HostBuffer]struct{}
	allocated int64
	closed    bool
}

func NewHost() *Host {
	return &Host{live: make(map[*HostBuffer]struct{})}
}

func (h *Host) Name() string {
	return "host"
}

func (h *Host) Alloc(bytes int64) (Buffer, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("host alloc size must be > 0")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	b := &HostBuffer{dev: h, raw: tensor.AlignedBytes(int(bytes))}
	h.live[b] = struct{}{}
	h.allocated += bytes
	return b, nil
}

func (h *Host) Upload(dst Buffer, src []byte) error {
	b, err := h.own(dst)
	if err != nil {
		return err
	}
	if err := checkCopy(len(src), b); err != nil {
		return err
	}
	copy(b.raw, src)
	return nil
}

func (h *Host) Download(dst []byte, src Buffer) error {
	b, err := h.own(src)
	if err != nil {
		return err
	}
	if err := checkCopy(len(dst), b); err != nil {
		return err
	}
	copy(dst, b.raw)
	return nil
}

// Synchronize is a no-op: host kernels join their workers before returning.
func (h *Host) Synchronize() error {
	return nil
}

// Close frees any buffers still live and reports them as an error.
func (h *Host) Close() error {
	h.mu.Lock()
	leaked := make([]*HostBuffer, 0, len(h.live))
	for b := range h.live {
		leaked = append(leaked, b)
	}
	h.closed = true
	h.mu.Unlock()

	var errs []error
	for _, b := range leaked {
		errs = append(errs, b.Free())
	}
	if len(leaked) > 0 {
		errs = append(errs, fmt.Errorf("%d host buffers still live at close", len(leaked)))
	}
	return errors.Join(errs...)
}

// Live is the number of allocations not yet freed.
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Allocated is the number of live bytes.
func (h *Host) Allocated() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocated
}

func (h *Host) own(buf Buffer) (*HostBuffer, error) {
	b, ok := buf.(*HostBuffer)
	if !ok || b.dev != h {
		return nil, ErrForeignBuffer
	}
	if b.freed() {
		return nil, ErrFreed
	}
	return b, nil
}

// HostBuffer is 8-byte aligned Go memory.
type HostBuffer struct {
	dev *Host
	raw []byte
}

func (b *HostBuffer) Size() int64 {
	return int64(len(b.raw))
}

// Bytes exposes the backing memory. It is nil after Free.
func (b *HostBuffer) Bytes() []byte {
	return b.raw
}

func (b *HostBuffer) Free() error {
	h := b.dev
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[b]; !ok {
		return ErrFreed
	}
	delete(h.live, b)
	h.allocated -= int64(len(b.raw))
	b.raw = nil
	return nil
}

func (b *HostBuffer) freed() bool {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	_, ok := b.dev.live[b]
	return !ok
}

// HostBytes returns the memory behind a host buffer, or an error when buf
// was allocated elsewhere.
func HostBytes(buf Buffer) ([]byte, error) {
	if buf == nil {
		return nil, nil
	}
	b, ok := buf.(*HostBuffer)
	if !ok {
		return nil, ErrForeignBuffer
	}
	if b.freed() {
		return nil, ErrFreed
	}
	return b.raw, nil
}

// Features lists the vector extensions the host CPU reports.
func Features() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
		add(cpu.X86.HasAVX512VNNI, "avx512vnni")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fp16")
		add(cpu.ARM64.HasASIMDDP, "dotprod")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return out
}
