package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestConstructorsWriteRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func(*bytes.Buffer) Logger
		want  []string
	}{
		{"json", func(b *bytes.Buffer) Logger { return JSON(b, slog.LevelInfo) }, []string{`"msg":"found instances"`, `"count":12`, `"level":"INFO"`, `"source":`}},
		{"text", func(b *bytes.Buffer) Logger { return Text(b, slog.LevelInfo) }, []string{`msg="found instances"`, "count=12"}},
		{"pretty", func(b *bytes.Buffer) Logger { return Pretty(b, slog.LevelInfo) }, []string{"INFO  found instances", "count=12"}},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		tc.build(&buf).Info("found instances", "count", 12)
		for _, want := range tc.want {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("%s: expected %s in output, got: %s", tc.name, want, buf.String())
			}
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	for _, format := range []string{FormatJSON, FormatText, FormatPretty} {
		var buf bytes.Buffer
		log, err := ForFormat(format, &buf, slog.LevelWarn)
		if err != nil {
			t.Fatal(err)
		}
		log.Debug("unsupported")
		log.Info("measured")
		if buf.Len() > 0 {
			t.Fatalf("%s: expected nothing below warn, got: %s", format, buf.String())
		}
		log.Warn("verification failed")
		if !strings.Contains(buf.String(), "verification failed") {
			t.Fatalf("%s: expected warn record, got: %s", format, buf.String())
		}
	}
}

func TestWithAndGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("workload", "gemm_f16").WithGroup("best")
	log.Info("best instance", "index", 2)

	out := buf.String()
	if !strings.Contains(out, `"workload":"gemm_f16"`) || !strings.Contains(out, `"best":{"index":2}`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"trace", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.want {
			t.Errorf("ParseLevel(%q): got %v want %v", tc.input, got, tc.want)
		}
	}
}

func TestForFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"instance":"gemm_8x8"`},
		{"text", "instance=gemm_8x8"},
		{"logfmt", "instance=gemm_8x8"},
		{"", "instance=gemm_8x8"},
		{"Pretty", "instance=gemm_8x8"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log, err := ForFormat(tc.format, &buf, slog.LevelInfo)
		if err != nil {
			t.Fatalf("ForFormat(%q): %v", tc.format, err)
		}
		log.Info("measured", "instance", "gemm_8x8")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("ForFormat(%q): expected %s in output, got: %s", tc.format, tc.want, buf.String())
		}
	}

	if _, err := ForFormat("xml", &bytes.Buffer{}, slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("dropped", "key", "value")
	log.With("a", 1).WithGroup("g").Warn("also dropped")
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) || !h.Enabled(ctx, slog.LevelWarn) || !h.Enabled(ctx, slog.LevelError) {
		t.Fatal("unexpected Enabled result at warn level")
	}
	if !NewPrettyHandler(&bytes.Buffer{}, nil).Enabled(ctx, slog.LevelInfo) {
		t.Fatal("nil options should enable info")
	}
}

func TestPrettyAttrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		log  func(*slog.Logger)
		want string
	}{
		{"handler attrs", func(l *slog.Logger) { l.With("backend", "host").Info("x") }, "backend=host"},
		{"group", func(l *slog.Logger) { l.WithGroup("best").Info("x", "name", "a") }, "best.name=a"},
		{"nested groups", func(l *slog.Logger) { l.WithGroup("a").WithGroup("b").Info("x", "k", "v") }, "a.b.k=v"},
		{"attrs then group", func(l *slog.Logger) { l.WithGroup("g").With("k", 1).Info("x") }, "g.k=1"},
		{"quoted", func(l *slog.Logger) { l.Info("x", "problem", "M 64 N 64") }, `problem="M 64 N 64"`},
		{"simple", func(l *slog.Logger) { l.Info("x", "key", "simple") }, " key=simple"},
		{"empty", func(l *slog.Logger) { l.Info("x", "only", "") }, `only=""`},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		tc.log(slog.New(NewPrettyHandler(&buf, nil)))
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("%s: expected %s in output, got: %s", tc.name, tc.want, buf.String())
		}
	}
}

func TestPrettyEmptyGroupIsSameHandler(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("WithGroup(\"\") should return the same handler")
	}
}

func TestPrettyFormatsMeasurements(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug)
	log.With("session", "s1").WithGroup("best").Debug("measured", "ms", 0.211349871, "elapsed", 1500*time.Millisecond, slog.Group("shape", "m", 64))

	output := buf.String()
	for _, want := range []string{"DEBUG measured", "session=s1", "best.ms=0.21135", "best.elapsed=1.5s", "best.shape.m=64"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "\x1b[") {
		t.Fatalf("unexpected escape codes writing to a buffer: %q", output)
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"simple", false},
		{"HostGemm_f16<64x64x32>", false},
		{"has space", true},
		{"has\ttab", true},
		{"has\nnewline", true},
		{`has"quote`, true},
		{"k=v", true},
		{"", true},
	}
	for _, tc := range tests {
		if got := needsQuoting(tc.input); got != tc.want {
			t.Errorf("needsQuoting(%q): got %v want %v", tc.input, got, tc.want)
		}
	}
}
