package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// prettyStyles are resolved against the handler's writer, so output to a
// file or a pipe carries no escape codes.
type prettyStyles struct {
	time  lipgloss.Style
	attrs lipgloss.Style
	level map[slog.Level]lipgloss.Style
}

func newPrettyStyles(w io.Writer) *prettyStyles {
	r := lipgloss.NewRenderer(w)
	level := func(c string) lipgloss.Style { return r.NewStyle().Bold(true).Foreground(lipgloss.Color(c)) }
	return &prettyStyles{
		time:  r.NewStyle().Faint(true),
		attrs: r.NewStyle().Foreground(lipgloss.Color("6")),
		level: map[slog.Level]lipgloss.Style{
			slog.LevelDebug: level("8"),
			slog.LevelInfo:  level("4"),
			slog.LevelWarn:  level("3"),
			slog.LevelError: level("1"),
		},
	}
}

func (s *prettyStyles) forLevel(l slog.Level) lipgloss.Style {
	switch {
	case l >= slog.LevelError:
		return s.level[slog.LevelError]
	case l >= slog.LevelWarn:
		return s.level[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return s.level[slog.LevelInfo]
	default:
		return s.level[slog.LevelDebug]
	}
}

// PrettyHandler is a slog.Handler for terminal output:
//
//	12:04:05.123 INFO  measured instance=HostGemm_f16<64x64x32> ms=0.2113 tflops=1.27
//
// Floats are printed with five significant digits.
type PrettyHandler struct {
	opts   slog.HandlerOptions
	w      io.Writer
	mu     *sync.Mutex
	styles *prettyStyles
	group  string
	attrs  []slog.Attr
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{
		opts:   *opts,
		w:      w,
		mu:     &sync.Mutex{},
		styles: newPrettyStyles(w),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(h.styles.time.Render(r.Time.Format("15:04:05.000")))
	sb.WriteByte(' ')
	sb.WriteString(h.styles.forLevel(r.Level).Render(fmt.Sprintf("%-5s", r.Level.String())))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	var kv []byte
	for _, a := range h.attrs {
		kv = appendAttr(kv, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		kv = appendAttr(kv, a, h.group)
		return true
	})
	if len(kv) > 0 {
		sb.WriteString(h.styles.attrs.Render(string(kv)))
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

// WithAttrs keys attrs under the current group.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

// appendAttr appends " key=value"; group values expand to dotted keys.
func appendAttr(buf []byte, a slog.Attr, group string) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, ga, key)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, '=')
	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if needsQuoting(s) {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, a.Value.Float64(), 'g', 5, 64)
	case slog.KindDuration:
		return append(buf, a.Value.Duration().String()...)
	case slog.KindTime:
		return a.Value.Time().AppendFormat(buf, time.RFC3339)
	default:
		return append(buf, fmt.Sprint(a.Value.Any())...)
	}
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t\n\"=")
}
