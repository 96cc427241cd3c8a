package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"

	"github.com/samcharles93/kprof/internal/profiler"
	"github.com/samcharles93/kprof/internal/workload"
)

const (
	formatText = "text"
	formatJSON = "json"
)

var (
	bestStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50C878"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E0524F"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	keyStyle    = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	valueStyle  = lipgloss.NewStyle().Padding(0, 1)
	borderColor = "#705090"
)

func perfLine(ms, tflops, gbps float64, name string) string {
	return fmt.Sprintf("Perf: %.5g ms, %.5g TFlops, %.5g GB/s, %s", ms, tflops, gbps, name)
}

// textPrinter renders a profiling session the way an interactive run reads:
// one line per candidate as it is measured, then the best and the verdict.
type textPrinter struct {
	out io.Writer
	bar *progressbar.ProgressBar
	// progress enables the candidate progress bar on stderr.
	progress bool
}

func (p *textPrinter) found(n int) {
	_, _ = fmt.Fprintf(p.out, "found %d instances\n", n)
	if p.progress && n > 0 {
		p.bar = progressbar.NewOptions(n,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("profiling"),
			progressbar.OptionSetItsString("instances"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
		)
	}
}

func (p *textPrinter) measure(m profiler.Measurement) {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	if m.Supported {
		_, _ = fmt.Fprintln(p.out, perfLine(m.AvgMs, m.TFlops, m.GBps, m.Name))
	} else {
		_, _ = fmt.Fprintln(p.out, dimStyle.Render(m.Name+" does not support this problem"))
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *textPrinter) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// summary prints the session header table, the best instance and the
// verification verdict.
func (p *textPrinter) summary(rep *profiler.Report) {
	p.finish()
	if rep.Best == nil {
		_, _ = fmt.Fprintln(p.out, failStyle.Render("no instance supports this problem"))
		return
	}
	b := rep.Best
	_, _ = fmt.Fprintln(p.out, bestStyle.Render("Best "+perfLine(b.AvgMs, b.TFlops, b.GBps, b.Name)))
	if rep.Reran {
		_, _ = fmt.Fprintln(p.out, "Run the best instance without timing")
	}
	if v := rep.Verification; v != nil {
		style := bestStyle
		if !v.OK {
			style = failStyle
		}
		_, _ = fmt.Fprintln(p.out, style.Render("verification "+v.String()))
	}
	_, _ = fmt.Fprintln(p.out, sessionTable(rep))
}

func sessionTable(rep *profiler.Report) string {
	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(borderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valueStyle
		})
	t.Row("session", rep.ID.String())
	t.Row("workload", rep.Workload)
	t.Row("device", rep.Device)
	t.Row("problem", rep.Problem)
	t.Row("flops", humanize.Comma(rep.Flops))
	t.Row("traffic", humanize.IBytes(uint64(rep.Bytes)))
	t.Row("staged", humanize.IBytes(uint64(rep.Staged)))
	t.Row("instances", strconv.Itoa(rep.Found))
	t.Row("elapsed", rep.Duration.Round(time.Millisecond).String())
	return t.String()
}

func writeReportJSON(out io.Writer, rep *profiler.Report) error {
	b, err := json.MarshalIndent(struct {
		*profiler.Report
		Passed bool `json:"passed"`
	}{rep, rep.Passed()}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = out.Write(b)
	return err
}

func workloadsTable(ws []*workload.Workload) string {
	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(borderColor))).
		Headers("name", "kind", "problem", "GFLOP", "traffic")
	for _, w := range ws {
		t.Row(
			w.Name,
			w.Signature.Kind.String(),
			w.Problem.String(),
			humanize.CommafWithDigits(float64(w.Problem.Flops())/1e9, 3),
			humanize.IBytes(uint64(w.Problem.Bytes(w.Signature))),
		)
	}
	return t.String()
}
