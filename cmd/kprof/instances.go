package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kprof/internal/backend"
	"github.com/samcharles93/kprof/internal/logger"
	"github.com/samcharles93/kprof/internal/workload"
)

func instancesCmd() *cli.Command {
	var supportedOnly bool

	flags := append([]cli.Flag{backendFlag()}, workloadFlags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "supported",
		Usage:       "only list instances that support the workload's problem",
		Destination: &supportedOnly,
	})

	return &cli.Command{
		Name:  "instances",
		Usage: "List the instances registered for a workload's signature",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, loaded)
			w, err := resolveWorkload(workloadRef, workloadsDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: workload: %v", err), 1)
			}
			b, err := backend.Open(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: backend: %v", err), 1)
			}
			defer func() { _ = b.Close() }()
			if err := b.Enable(w.Signature); err != nil {
				logger.FromContext(ctx).Debug("no families for signature", "signature", w.Signature.Key(), "error", err)
			}
			return listInstances(os.Stdout, b, w, supportedOnly)
		},
	}
}

func listInstances(out io.Writer, b *backend.Backend, w *workload.Workload, supportedOnly bool) error {
	cands := b.Registry().Instances(w.Signature)
	_, _ = fmt.Fprintf(out, "%s on %s: %d instances (%s)\n", w.Name, b.Device().Name(), len(cands), w.Signature.Key())

	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(borderColor))).
		Headers("#", "instance", "supported")
	for i, c := range cands {
		ok := c.Supports(w.Problem)
		if supportedOnly && !ok {
			continue
		}
		mark := "no"
		if ok {
			mark = "yes"
		}
		t.Row(fmt.Sprint(i), c.Name(), mark)
	}
	_, err := fmt.Fprintln(out, t.String())
	return err
}
