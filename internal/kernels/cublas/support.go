package cublas

import (
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

// supports is the static GemmEx support check. Integer GEMM needs K and
// the leading dimensions of A and B to be multiples of 4.
func supports(sig kernel.Signature, p kernel.Problem) bool {
	gp, ok := p.(kernel.GemmProblem)
	if !ok || gp.Validate() != nil {
		return false
	}
	if sig.A == tensor.I8 {
		lda, ldb, _ := gp.LeadingDims(sig)
		return gp.K%4 == 0 && lda%4 == 0 && ldb%4 == 0
	}
	return true
}
