package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// gelfWriter is the part of gelf.Writer the handler needs.
type gelfWriter interface {
	WriteMessage(m *gelf.Message) error
}

// GELFHandler ships records to Graylog as GELF messages over UDP.
type GELFHandler struct {
	w      gelfWriter
	host   string
	level  slog.Leveler
	fields map[string]string // from WithAttrs, already prefixed
	group  string
	mu     *sync.Mutex
}

// NewGELFHandler dials the Graylog input at addr (host:port).
func NewGELFHandler(addr string, level slog.Leveler) (*GELFHandler, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create gelf writer: %w", err)
	}
	return newGELFHandler(w, level), nil
}

func newGELFHandler(w gelfWriter, level slog.Leveler) *GELFHandler {
	host, _ := os.Hostname()
	if level == nil {
		level = slog.LevelInfo
	}
	return &GELFHandler{w: w, host: host, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether level reaches the handler's minimum.
func (h *GELFHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle converts the record into a GELF message and writes it.
func (h *GELFHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string, len(h.fields)+r.NumAttrs())
	maps.Copy(fields, h.fields)
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, h.group, a)
		return true
	})

	extra := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		extra["_"+k] = v
	}

	msg := &gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(r.Time.UnixNano()) / float64(time.Second),
		Level:    syslogLevel(r.Level),
		Extra:    extra,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.WriteMessage(msg)
}

// WithAttrs returns a handler that adds attrs to every message, keyed under
// the groups opened so far.
func (h *GELFHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.fields = make(map[string]string, len(h.fields)+len(attrs))
	maps.Copy(c.fields, h.fields)
	for _, a := range attrs {
		addField(c.fields, h.group, a)
	}
	return &c
}

// WithGroup returns a handler that prefixes later attribute keys with name.
func (h *GELFHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

// addField flattens a into fields as a dotted key under prefix. Groups are
// expanded, attributes without a key dropped.
func addField(fields map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addField(fields, key, ga)
		}
		return
	}
	fields[key] = v.String()
}

func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return gelf.LOG_ERR
	case l >= slog.LevelWarn:
		return gelf.LOG_WARNING
	case l >= slog.LevelInfo:
		return gelf.LOG_INFO
	default:
		return gelf.LOG_DEBUG
	}
}
