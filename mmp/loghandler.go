package mmp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LogHandler is a slog.Handler that mirrors log records at or above a
// minimum level to the manager's central log, so that operators see
// warnings from every instance in one place. Records are also expected
// to be handled by a local handler; compose with slog's built-in
// handlers via a multi-handler or use it for the manager side only.
type LogHandler struct {
	client   *Client
	instance string
	min      slog.Level
	attrs    []slog.Attr
	groups   []string
}

// NewLogHandler creates a LogHandler forwarding records of at least
// min level for the named instance.
func NewLogHandler(client *Client, instance string, min slog.Level) *LogHandler {
	return &LogHandler{client: client, instance: instance, min: min}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

// Handle implements slog.Handler. Submission failures are dropped;
// local logging must keep working when the manager is gone.
func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)

	writeAttr := func(a slog.Attr) {
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value)
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	//nolint:errcheck
	_ = h.client.SubmitLogMessage(h.instance, record.Level, record.Time, b.String())
	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)
	return &cp
}
