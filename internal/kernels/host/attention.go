package host

import (
	"context"
	"fmt"
	"math"

	"github.com/samcharles93/kprof/internal/kernel"
)

// attentionInstance computes softmax(Acc(A*B0^T, D)) * B1 one block of
// query rows at a time, keeping the score block in float32.
type attentionInstance struct {
	sig  kernel.Signature
	tile Tile
}

func attentionFamily(sig kernel.Signature, tiles []Tile) kernel.Factory {
	return func() []kernel.Candidate {
		out := make([]kernel.Candidate, len(tiles))
		for i, t := range tiles {
			out[i] = attentionInstance{sig: sig, tile: t.clamped()}
		}
		return out
	}
}

func (a attentionInstance) masking() string {
	if a.sig.Masked {
		return "MaskOutUpperTriangle"
	}
	return "MaskDisabled"
}

func (a attentionInstance) Name() string {
	return fmt.Sprintf("HostBatchedGemmSoftmaxGemm_%s<%s, %s>", a.sig.A, a.tile, a.masking())
}

func (a attentionInstance) Supports(p kernel.Problem) bool {
	ap, ok := p.(kernel.AttentionProblem)
	if !ok || ap.Validate() != nil {
		return false
	}
	t := a.tile
	if t.Spec == GemmDefault && (ap.M%t.M != 0 || ap.N%t.N != 0) {
		return false
	}
	return ap.K%t.Vector == 0 && ap.O%t.Vector == 0
}

func (a attentionInstance) Prepare(bufs kernel.Buffers, p kernel.Problem, ops kernel.Operators) (kernel.Invocation, error) {
	ap, ok := p.(kernel.AttentionProblem)
	if !ok {
		return nil, fmt.Errorf("%s: expected attention problem, got %s", a.Name(), p.Kind())
	}
	b, err := bind(a.sig, ap, bufs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Name(), err)
	}
	acc := kernel.Or(ops.Acc)
	if acc.Arity() > len(b.ds) {
		return nil, fmt.Errorf("%s: operator %s needs %d D operands, have %d", a.Name(), acc.Name(), acc.Arity(), len(b.ds))
	}
	return &invocation{problem: p, exec: attentionExec(a.tile, a.sig.Masked, ap, b, ops)}, nil
}

func (a attentionInstance) Run(ctx context.Context, inv kernel.Invocation, cfg kernel.StreamConfig) (float64, error) {
	return run(ctx, inv, cfg)
}

type attentionScratch struct {
	q, kv, s, o []float32
	ds          []float64
}

func attentionExec(t Tile, masked bool, p kernel.AttentionProblem, b bindings, ops kernel.Operators) func() {
	rdA := readerFor[float32](b.a.dt, b.a.raw, ops.A)
	rdB0 := readerFor[float32](b.b.dt, b.b.raw, ops.B)
	rdB1 := readerFor[float32](b.b1.dt, b.b1.raw, nil)
	accOp := kernel.Or(ops.Acc)
	cde := kernel.Or(ops.CDE)
	dReads := make([]func(int) float64, len(b.ds))
	for i, d := range b.ds {
		dReads[i] = func(off int) float64 { return d.dt.Load(d.raw, off) }
	}

	workers := planWorkers(t)
	bm, bn := min(t.M, p.M), min(t.N, p.N)
	scratch := make([]attentionScratch, workers)
	for i := range scratch {
		scratch[i] = attentionScratch{
			q:  make([]float32, bm*p.K),
			kv: make([]float32, bn*max(p.K, p.O)),
			s:  make([]float32, bm*p.N),
			o:  make([]float32, bm*p.O),
			ds: make([]float64, len(b.ds)),
		}
	}

	aD, b0D, b1D, eD := b.a.desc, b.b.desc, b.b1.desc, b.e.desc
	mTiles := (p.M + bm - 1) / bm
	return func() {
		workPool.parallelFor(p.Batch()*mTiles, workers, func(w, lo, hi int) {
			sc := &scratch[w]
			for idx := lo; idx < hi; idx++ {
				g := idx / mTiles
				g0, g1 := g/p.G1, g%p.G1
				m0 := (idx % mTiles) * bm
				mn := min(bm, p.M-m0)

				for i := 0; i < mn; i++ {
					for kk := 0; kk < p.K; kk++ {
						sc.q[i*p.K+kk] = rdA(aD.Offset(g0, g1, m0+i, kk))
					}
				}

				// S = Acc(Q * K^T, D) with causal masking.
				for n0 := 0; n0 < p.N; n0 += bn {
					nn := min(bn, p.N-n0)
					for j := 0; j < nn; j++ {
						for kk := 0; kk < p.K; kk++ {
							sc.kv[j*p.K+kk] = rdB0(b0D.Offset(g0, g1, n0+j, kk))
						}
					}
					for i := 0; i < mn; i++ {
						qi := sc.q[i*p.K : (i+1)*p.K]
						for j := 0; j < nn; j++ {
							col := n0 + j
							if masked && col > m0+i {
								sc.s[i*p.N+col] = float32(math.Inf(-1))
								continue
							}
							kj := sc.kv[j*p.K : (j+1)*p.K]
							var dot float32
							for kk, qv := range qi {
								dot += qv * kj[kk]
							}
							for d, rd := range dReads {
								sc.ds[d] = rd(b.ds[d].desc.Offset(g0, g1, m0+i, col))
							}
							sc.s[i*p.N+col] = float32(accOp.Apply(float64(dot), sc.ds))
						}
					}
				}

				for i := 0; i < mn; i++ {
					softmaxRow(sc.s[i*p.N : (i+1)*p.N])
				}

				// O = P * V.
				o := sc.o[:mn*p.O]
				clear(o)
				for n0 := 0; n0 < p.N; n0 += bn {
					nn := min(bn, p.N-n0)
					for j := 0; j < nn; j++ {
						for oo := 0; oo < p.O; oo++ {
							sc.kv[j*p.O+oo] = rdB1(b1D.Offset(g0, g1, n0+j, oo))
						}
					}
					for i := 0; i < mn; i++ {
						oi := o[i*p.O : (i+1)*p.O]
						pi := sc.s[i*p.N+n0 : i*p.N+n0+nn]
						for j, pv := range pi {
							if pv == 0 {
								continue
							}
							vj := sc.kv[j*p.O : (j+1)*p.O]
							for oo := range oi {
								oi[oo] += pv * vj[oo]
							}
						}
					}
				}

				for i := 0; i < mn; i++ {
					for oo := 0; oo < p.O; oo++ {
						v := cde.Apply(float64(o[i*p.O+oo]), nil)
						b.e.dt.Store(b.e.raw, eD.Offset(g0, g1, m0+i, oo), v)
					}
				}
			}
		})
	}
}

// softmaxRow normalizes row in place. Masked entries are -Inf and become 0.
func softmaxRow(row []float32) {
	mx := float32(math.Inf(-1))
	for _, v := range row {
		mx = max(mx, v)
	}
	if math.IsInf(float64(mx), -1) {
		clear(row)
		return
	}
	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - mx))
		row[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range row {
		row[i] *= inv
	}
}
