package backend

import (
	"strings"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/kernels/host"
)

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Host}
	if Has(CUDA) {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}

// Has reports whether the named backend can be opened in this build on
// this machine.
func Has(name string) bool {
	switch name {
	case Host:
		return true
	case CUDA:
		return cudaEnabled && cudaDevices() > 0
	default:
		return false
	}
}

func newHost() *Backend {
	return newBackend(Host, device.NewHost(), host.Register)
}

// Features lists the host CPU features the host kernels can use.
func Features() []string {
	return device.Features()
}
