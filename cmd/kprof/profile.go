package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kprof/internal/backend"
	"github.com/samcharles93/kprof/internal/logger"
	"github.com/samcharles93/kprof/internal/profiler"
	"github.com/samcharles93/kprof/internal/workload"
)

type profileConfig struct {
	warmup         int
	repeat         int
	seed           uint64
	verify         bool
	format         string
	only           string
	requireSupport bool
	progress       bool
}

func profileCmd() *cli.Command {
	var pc profileConfig

	flags := append([]cli.Flag{backendFlag()}, workloadFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "verify",
			Aliases:     []string{"v"},
			Usage:       "check the best instance's output against the host reference",
			Destination: &pc.verify,
		},
		&cli.IntFlag{
			Name:        "warmup",
			Usage:       "untimed launches before timing each instance",
			Value:       1,
			Destination: &pc.warmup,
		},
		&cli.IntFlag{
			Name:        "repeat",
			Aliases:     []string{"n"},
			Usage:       "timed launches averaged per instance",
			Value:       5,
			Destination: &pc.repeat,
		},
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "input generator seed",
			Destination: &pc.seed,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "output format (text, json)",
			Value:       formatText,
			Destination: &pc.format,
		},
		&cli.StringFlag{
			Name:        "only",
			Usage:       "only run instances whose name contains this substring",
			Destination: &pc.only,
		},
		&cli.BoolFlag{
			Name:        "require-support",
			Usage:       "exit non-zero when no instance supports the problem",
			Destination: &pc.requireSupport,
		},
		&cli.BoolFlag{
			Name:        "progress",
			Usage:       "show a progress bar on stderr",
			Value:       stderrIsTTY(),
			Destination: &pc.progress,
		},
	)

	return &cli.Command{
		Name:  "profile",
		Usage: "Benchmark every instance for a workload and pick the fastest",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyProfileConfig(cmd, loaded, &pc.warmup, &pc.repeat, &pc.seed, &pc.verify, &pc.format)
			if err := pc.validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			w, err := resolveWorkload(workloadRef, workloadsDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: workload: %v", err), 1)
			}
			b, err := backend.Open(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: backend: %v", err), 1)
			}
			defer func() { _ = b.Close() }()

			rep, err := runProfile(ctx, b, w, pc, os.Stdout)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return pc.verdict(rep)
		},
	}
}

func (pc profileConfig) validate() error {
	switch pc.format {
	case formatText, formatJSON:
	default:
		return fmt.Errorf("unknown format %q (want text or json)", pc.format)
	}
	if pc.warmup < 0 {
		return errors.New("--warmup must not be negative")
	}
	if pc.repeat < 1 {
		return errors.New("--repeat must be at least 1")
	}
	return nil
}

// runProfile runs one session for w on b and renders it to out.
func runProfile(ctx context.Context, b *backend.Backend, w *workload.Workload, pc profileConfig, out io.Writer) (*profiler.Report, error) {
	log := logger.FromContext(ctx)
	if err := b.Enable(w.Signature); err != nil {
		log.Debug("no families for signature", "signature", w.Signature.Key(), "error", err)
	}

	opts := profiler.Options{
		Warmup: pc.warmup,
		Repeat: pc.repeat,
		Seed:   pc.seed,
		Verify: pc.verify,
		Only:   pc.only,
	}
	printer := &textPrinter{out: out, progress: pc.progress}
	if pc.format == formatText {
		opts.OnFound = printer.found
		opts.OnMeasure = printer.measure
		if err := w.Describe(out); err != nil {
			return nil, err
		}
	}

	rep, err := profiler.Run(ctx, b.Device(), b.Registry(), w, opts)
	printer.finish()
	if err != nil {
		return rep, err
	}
	if pc.format == formatJSON {
		return rep, writeReportJSON(out, rep)
	}
	printer.summary(rep)
	return rep, nil
}

func (pc profileConfig) verdict(rep *profiler.Report) error {
	if rep.Best == nil {
		if pc.requireSupport {
			return cli.Exit("error: no instance supports this problem", 1)
		}
		return nil
	}
	if v := rep.Verification; v != nil && !v.OK {
		return cli.Exit("error: verification failed", 1)
	}
	return nil
}

func stderrIsTTY() bool {
	st, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (st.Mode()&os.ModeCharDevice) != 0 && !strings.EqualFold(os.Getenv("TERM"), "dumb")
}
