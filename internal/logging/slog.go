package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// console is where records go when no log file is open. Tests swap it.
var console io.Writer = os.Stdout

// SlogManager builds the karta logger: one text sink, OTel when a provider
// is configured and any extra sinks such as Graylog.
type SlogManager struct {
	logger  *slog.Logger
	service []slog.Attr

	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// SetService names the service every record is stamped with. It takes effect
// with the next Setup.
func (m *SlogManager) SetService(name, version string) {
	m.service = []slog.Attr{
		slog.String("service", name),
		slog.String("version", version),
	}
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Setup replaces the logger. Records go to file, or to the console when file
// is nil, plus OTel when provider is set and every extra sink.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	lvl := parseLevel(level)
	m.logProvider = provider

	if file == nil {
		file = console
	}
	text := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 && a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	})

	sinks := []slog.Handler{text}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler("karta", otelslog.WithLoggerProvider(provider)))
	}
	sinks = append(sinks, extra...)

	m.logger = slog.New(newServiceHandler(newFanout(sinks...), m.service))
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
