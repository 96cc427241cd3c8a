//go:build !cuda

package backend

import "testing"

func TestCUDAUnavailableWithoutTag(t *testing.T) {
	t.Parallel()

	if Has(CUDA) {
		t.Fatal("Has(cuda) in a build without cuda")
	}
	if _, err := Open(CUDA); err == nil {
		t.Fatal("Open(cuda) succeeded without cuda support")
	}
	b, err := Open(Auto)
	if err != nil {
		t.Fatalf("Open(auto): %v", err)
	}
	defer b.Close()
	if b.Name() != Host {
		t.Fatalf("auto resolved to %q, want host", b.Name())
	}
}
