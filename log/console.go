package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// ConsoleHandler is a slog.Handler for development use: colored level,
// aligned message, dimmed key=value fields.
type ConsoleHandler struct {
	level slog.Leveler

	mu  *sync.Mutex
	out io.Writer

	attrs  []slog.Attr
	groups []string
}

var _ slog.Handler = (*ConsoleHandler)(nil)

func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}

	return &ConsoleHandler{
		level: level,
		mu:    &sync.Mutex{},
		out:   out,
	}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	var fields []any

	fields = append(fields, levelString(r.Level))
	fields = append(fields, color.New(color.Bold, color.FgWhite).Sprintf("%-30s", r.Message))

	for _, a := range h.attrs {
		fields = append(fields, h.formatAttr(a))
	}

	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, h.formatAttr(a))
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := fmt.Fprintln(h.out, fields...)

	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.attrs = append(c.attrs, attrs...)

	return c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	c := h.clone()
	c.groups = append(c.groups, name)

	return c
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	return &ConsoleHandler{
		level:  h.level,
		mu:     h.mu,
		out:    h.out,
		attrs:  append([]slog.Attr{}, h.attrs...),
		groups: append([]string{}, h.groups...),
	}
}

func (h *ConsoleHandler) formatAttr(a slog.Attr) string {
	key := a.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}

	name := color.New(color.FgHiBlue).Sprintf("%v", key)
	value := color.New(color.Faint).Sprintf("%v", a.Value.Resolve())

	return fmt.Sprintf("%v=%v", name, value)
}

func levelString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return color.RedString("|%s|", "ERROR")
	case level >= slog.LevelWarn:
		return color.YellowString("|%s|", "WARN")
	case level >= slog.LevelInfo:
		return color.GreenString("|%s|", "INFO")
	default:
		return color.WhiteString("|%s|", "DEBUG")
	}
}
