//go:build cuda

package cublas

import "fmt"

func cudaExecutionError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("cuda execution failed: %w", recErr)
	}
	return fmt.Errorf("cuda execution failed: %v", rec)
}

// guard runs fn, turning a panic in the launch path into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = cudaExecutionError(rec)
		}
	}()
	return fn()
}
