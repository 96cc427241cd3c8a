package profiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/logger"
	"github.com/samcharles93/kprof/internal/registry"
	"github.com/samcharles93/kprof/internal/tensor"
	"github.com/samcharles93/kprof/internal/verify"
	"github.com/samcharles93/kprof/internal/workload"
)

// Options control one profiling session.
type Options struct {
	Warmup int
	Repeat int
	Seed   uint64
	Verify bool
	// Only keeps candidates whose name contains this substring.
	Only string

	// OnFound is called once with the number of candidates to run.
	OnFound func(n int)
	// OnMeasure is called after each candidate.
	OnMeasure func(Measurement)
}

// Report is the full outcome of a session.
type Report struct {
	ID        uuid.UUID `json:"id"`
	Workload  string    `json:"workload"`
	Signature string    `json:"signature"`
	Problem   string    `json:"problem"`
	Device    string    `json:"device"`
	Flops     int64     `json:"flops"`
	Bytes     int64     `json:"bytes"`
	// Staged is the device memory held by the session's buffers.
	Staged int64 `json:"staged_bytes"`

	Found int `json:"found"`
	Selection

	// Reran is set once the best instance ran again without timing.
	Reran        bool           `json:"reran"`
	Verification *verify.Report `json:"verification,omitempty"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
}

// Passed reports whether the session found a supported instance and, if
// verification ran, whether it matched.
func (r *Report) Passed() bool {
	if r.Best == nil {
		return false
	}
	return r.Verification == nil || r.Verification.OK
}

func filter(cands []kernel.Candidate, only string) []kernel.Candidate {
	if only == "" {
		return cands
	}
	out := cands[:0:0]
	for _, c := range cands {
		if strings.Contains(c.Name(), only) {
			out = append(out, c)
		}
	}
	return out
}

// Run profiles w on dev using the candidates reg holds for its signature.
// Every buffer the session allocates is released before Run returns.
func Run(ctx context.Context, dev device.Device, reg *registry.Registry, w *workload.Workload, opts Options) (rep *Report, err error) {
	rep = &Report{
		ID:        uuid.New(),
		Workload:  w.Name,
		Signature: w.Signature.Key(),
		Problem:   w.Problem.String(),
		Device:    dev.Name(),
		Flops:     w.Problem.Flops(),
		Bytes:     w.Problem.Bytes(w.Signature),
		Started:   time.Now(),
	}
	log := logger.FromContext(ctx).With("session", rep.ID.String(), "workload", w.Name)
	defer func() {
		rep.Duration = time.Since(rep.Started)
	}()

	cands := filter(reg.Instances(w.Signature), opts.Only)
	rep.Found = len(cands)
	log.Info("found instances", "count", len(cands), "signature", rep.Signature)
	if opts.OnFound != nil {
		opts.OnFound(len(cands))
	}

	ops, err := w.Operators()
	if err != nil {
		return rep, err
	}
	in, err := w.Generate(opts.Seed)
	if err != nil {
		return rep, fmt.Errorf("generate inputs: %w", err)
	}

	arena := device.NewArena(dev)
	defer func() {
		if rerr := arena.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release buffers: %w", rerr))
		}
	}()
	bufs, err := w.Stage(arena, in)
	if err != nil {
		return rep, err
	}
	rep.Staged = arena.Size()

	job := Job{Signature: w.Signature, Problem: w.Problem, Buffers: bufs, Operators: ops}
	cfg := kernel.StreamConfig{TimeKernel: true, Warmup: opts.Warmup, Repeat: opts.Repeat}
	observe := func(m Measurement) {
		if m.Supported {
			log.Debug("measured", "index", m.Index, "instance", m.Name, "ms", m.AvgMs, "tflops", m.TFlops, "gbps", m.GBps)
		} else {
			log.Debug("unsupported", "index", m.Index, "instance", m.Name)
		}
		if opts.OnMeasure != nil {
			opts.OnMeasure(m)
		}
	}
	rep.Selection, err = SelectBest(ctx, cands, job, cfg, observe)
	if err != nil {
		return rep, err
	}
	if rep.Best == nil {
		log.Warn("no instance supports the problem", "problem", rep.Problem)
		return rep, nil
	}
	log.Info("best instance", "index", rep.Best.Index, "instance", rep.Best.Name, "tflops", rep.Best.TFlops)

	if err := RunBest(ctx, cands, *rep.Best, job); err != nil {
		return rep, err
	}
	if err := dev.Synchronize(); err != nil {
		return rep, fmt.Errorf("synchronize: %w", err)
	}
	rep.Reran = true
	if !opts.Verify {
		return rep, nil
	}

	out := tensor.AlignedBytes(int(w.Output().Bytes()))
	if err := dev.Download(out, bufs.E); err != nil {
		return rep, fmt.Errorf("download output: %w", err)
	}
	vr, err := w.Verify(out, in)
	if err != nil {
		return rep, err
	}
	rep.Verification = &vr
	if vr.OK {
		log.Info("verification passed", "max_abs_err", vr.MaxAbsErr)
	} else {
		log.Warn("verification failed", "mismatches", vr.Mismatches, "elements", vr.Elements)
	}
	return rep, nil
}
