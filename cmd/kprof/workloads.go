package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kprof/internal/workload"
)

func workloadsCmd() *cli.Command {
	var dump string

	return &cli.Command{
		Name:  "workloads",
		Usage: "List preset and file workloads",
		Flags: append(workloadFlags()[1:],
			&cli.StringFlag{
				Name:        "dump",
				Usage:       "print the named workload as YAML (a starting point for custom files)",
				Destination: &dump,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, loaded)
			set, err := loadWorkloads(workloadsDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if dump != "" {
				return dumpWorkload(os.Stdout, set, dump)
			}
			_, _ = fmt.Fprintln(os.Stdout, workloadsTable(set.All()))
			return nil
		},
	}
}

func dumpWorkload(out io.Writer, set *workload.Set, ref string) error {
	w, err := workload.Resolve(set, ref)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return workload.Encode(out, w)
}
