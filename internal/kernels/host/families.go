// Package host provides tile-parameterised CPU kernels for every operation
// kind. Each family is a table of Tile rows; every row is one candidate.
package host

import (
	"fmt"

	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/registry"
	"github.com/samcharles93/kprof/internal/tensor"
)

type Family struct {
	Name    string
	Factory kernel.Factory
}

// Families returns the host families able to run sig, in the order they
// should be registered.
func Families(sig kernel.Signature) ([]Family, error) {
	if err := checkTypes(sig); err != nil {
		return nil, err
	}
	exact, padded := splitSpec(gemmTiles)
	switch sig.Kind {
	case kernel.KindGemm:
		return []Family{
			{"host_gemm_default", gemmFamily(sig, exact)},
			{"host_gemm_mnk_padding", gemmFamily(sig, padded)},
		}, nil
	case kernel.KindGroupedConvFwd:
		if sig.NumDimSpatial > maxSpatial {
			return nil, fmt.Errorf("host conv supports at most %d spatial dims, got %d", maxSpatial, sig.NumDimSpatial)
		}
		convExact, _ := splitSpec(convTiles)
		return []Family{
			{"host_grouped_conv_fwd_default", convFamily(sig, ConvDefault, convTiles)},
			{"host_grouped_conv_fwd_1x1_p0", convFamily(sig, ConvFilter1x1Pad0, convExact)},
			{"host_grouped_conv_fwd_1x1_s1_p0", convFamily(sig, ConvFilter1x1Stride1Pad0, convExact)},
		}, nil
	case kernel.KindBatchedGemmSoftmaxGemm:
		if sig.B1 == tensor.Invalid {
			return nil, fmt.Errorf("attention signature needs a B1 data type")
		}
		return []Family{{"host_batched_gemm_softmax_gemm", attentionFamily(sig, attentionTiles)}}, nil
	case kernel.KindContractionBilinear:
		return []Family{
			{"host_contraction_kknn", contractionFamily(sig, exact)},
			{"host_contraction_kknn_padded", contractionFamily(sig, padded)},
		}, nil
	default:
		return nil, fmt.Errorf("host backend has no kernels for %s", sig.Kind)
	}
}

// Register adds every host family for sig to reg.
func Register(reg *registry.Registry, sig kernel.Signature) error {
	fams, err := Families(sig)
	if err != nil {
		return err
	}
	for _, f := range fams {
		reg.Register(sig, f.Name, f.Factory)
	}
	return nil
}

func splitSpec(tiles []Tile) (exact, padded []Tile) {
	for _, t := range tiles {
		if t.Spec == GemmMNKPadding {
			padded = append(padded, t)
		} else {
			exact = append(exact, t)
		}
	}
	return exact, padded
}

func checkTypes(sig kernel.Signature) error {
	for _, dt := range append([]tensor.DataType{sig.A, sig.B, sig.E}, sig.DTypes()...) {
		if dt == tensor.Invalid {
			return fmt.Errorf("signature %s has an unset data type", sig.Key())
		}
	}
	return nil
}
