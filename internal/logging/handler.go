package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"
)

type ctxAttrsKey struct{}

// ContextWith returns a copy of ctx carrying args as log attributes. Records
// logged with that context through a SlogManager logger include them, which
// is how the API's request id reaches the chapter service's lines.
func ContextWith(ctx context.Context, args ...any) context.Context {
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(args...)

	attrs := slices.Clone(contextAttrs(ctx))
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return context.WithValue(ctx, ctxAttrsKey{}, attrs)
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

// serviceHandler stamps every record with the service name and version and
// with the attributes its context carries.
type serviceHandler struct {
	inner slog.Handler
}

// newServiceHandler attaches service to inner once, outside of any group.
func newServiceHandler(inner slog.Handler, service []slog.Attr) *serviceHandler {
	if len(service) > 0 {
		inner = inner.WithAttrs(service)
	}
	return &serviceHandler{inner: inner}
}

func (h *serviceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *serviceHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := contextAttrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &serviceHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *serviceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &serviceHandler{inner: h.inner.WithGroup(name)}
}

// fanout delivers each record to every sink enabled for its level: the log
// file or stdout, OTel and Graylog. A failing sink does not keep the record
// from the others; its error is joined into the result.
type fanout []slog.Handler

func newFanout(sinks ...slog.Handler) fanout {
	return slices.DeleteFunc(slices.Clone(sinks), func(h slog.Handler) bool { return h == nil })
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
