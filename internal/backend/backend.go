// Package backend opens a device together with the registry of kernel
// families that can run on it.
package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/registry"
)

const (
	Host = "host"
	CUDA = "cuda"
	Auto = "auto"
)

// Backend owns a device. Kernel families are registered per signature
// on first use, so workloads loaded from files get candidates too.
type Backend struct {
	name   string
	dev    device.Device
	reg    *registry.Registry
	enable func(reg *registry.Registry, sig kernel.Signature) error

	mu      sync.Mutex
	enabled map[kernel.Signature]error
}

func newBackend(name string, dev device.Device, enable func(*registry.Registry, kernel.Signature) error) *Backend {
	return &Backend{
		name:    name,
		dev:     dev,
		reg:     registry.New(),
		enable:  enable,
		enabled: make(map[kernel.Signature]error),
	}
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Device() device.Device {
	return b.dev
}

func (b *Backend) Registry() *registry.Registry {
	return b.reg
}

// Enable registers this backend's families for sig once. Later calls
// return the first call's result.
func (b *Backend) Enable(sig kernel.Signature) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, done := b.enabled[sig]; done {
		return err
	}
	err := b.enable(b.reg, sig)
	if err != nil {
		err = fmt.Errorf("%s backend: %w", b.name, err)
	}
	b.enabled[sig] = err
	return err
}

func (b *Backend) Close() error {
	return b.dev.Close()
}

// Normalize maps a user-supplied backend name to a known one. "cpu" is
// accepted for host.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case "cpu":
		return Host, nil
	case Host, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, host, or cuda)", backend)
	}
}

// Open normalizes name and opens that backend. Auto prefers CUDA when a
// device is present and falls back to the host.
func Open(name string) (*Backend, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch name {
	case Host:
		return newHost(), nil
	case CUDA:
		return newCUDA()
	default:
		if Has(CUDA) {
			if b, err := newCUDA(); err == nil {
				return b, nil
			}
		}
		return newHost(), nil
	}
}
