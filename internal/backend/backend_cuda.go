//go:build cuda

package backend

import (
	"fmt"

	"github.com/samcharles93/kprof/internal/device/cuda"
	"github.com/samcharles93/kprof/internal/device/cuda/native"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/kernels/cublas"
	"github.com/samcharles93/kprof/internal/registry"
)

const cudaEnabled = true

func cudaDevices() int {
	n, err := native.DeviceCount()
	if err != nil {
		return 0
	}
	return n
}

func newCUDA() (*Backend, error) {
	dev, err := cuda.New(0)
	if err != nil {
		return nil, err
	}
	return newBackend(CUDA, dev, func(reg *registry.Registry, sig kernel.Signature) error {
		if !cublas.Register(reg, dev, sig) {
			return fmt.Errorf("no cuda kernels for %s", sig.Key())
		}
		return nil
	}), nil
}
