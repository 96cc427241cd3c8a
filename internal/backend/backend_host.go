//go:build !cuda

package backend

import "errors"

const cudaEnabled = false

var errCUDAUnavailable = errors.New("cuda backend not implemented in this build")

func cudaDevices() int {
	return 0
}

func newCUDA() (*Backend, error) {
	return nil, errCUDAUnavailable
}
