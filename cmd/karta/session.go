package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/internal/config"
	"github.com/storyweave/karta/internal/influx"
	"github.com/storyweave/karta/internal/logging"
	intOtel "github.com/storyweave/karta/internal/otel"
	"github.com/storyweave/karta/internal/storage"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// session is the logging and telemetry state of one command invocation.
type session struct {
	start   time.Time
	slog    *logging.SlogManager
	log     *slog.Logger
	zlog    zerolog.Logger
	logFile *os.File
	otel    *intOtel.Provider
	influx  *influx.Manager
}

// setupSession loads the config from configDir and brings up logging, OTel
// and the optional InfluxDB sweep statistics. Until the log file exists,
// records go to stderr.
func setupSession(configDir string, stderr io.Writer) (*session, error) {
	s := &session{
		start: time.Now(),
		slog:  logging.NewSlogManager(),
		zlog:  zerolog.New(stderr).With().Timestamp().Logger(),
	}
	s.slog.SetService(ServiceName, Version)
	s.slog.Setup(stderr, "info", nil)
	s.log = s.slog.Logger()

	if err := config.Load(configDir); err != nil {
		s.log.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		s.log.Debug("Loaded config", "dir", configDir)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFilePath := logging.LogFilePath(logsDir, ServiceName, s.start)
	if _, err := os.Stat(logFilePath); err == nil {
		os.Rename(logFilePath, logFilePath+".old")
	}
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		s.log.Error("Failed to create/open log file!", "error", err, "path", logFilePath)
	} else {
		s.logFile = logFile
		s.zlog = zerolog.New(logFile).With().Timestamp().Logger()
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var logWriter io.Writer
		if s.logFile != nil {
			logWriter = s.logFile
		}
		s.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logWriter,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			s.log.Error("Failed to initialize OTel provider", "error", err)
			s.otel = nil
		}
	}

	var extra []slog.Handler
	if config.GetBool("graylog.enabled") {
		gelfHandler, err := logging.NewGELFHandler(config.GetString("graylog.address"), nil)
		if err != nil {
			s.log.Error("Failed to set up Graylog handler", "error", err)
		} else {
			extra = append(extra, gelfHandler)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if s.otel != nil {
		otelLogProvider = s.otel.LoggerProvider()
	}
	var out io.Writer = stderr
	if s.logFile != nil {
		out = s.logFile
	}
	s.slog.Setup(out, config.GetString("logLevel"), otelLogProvider, extra...)
	s.log = s.slog.Logger()
	s.log.Info("Logging to file", "path", logFilePath)

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		m := influx.NewManager(s.zlog, influxCfg, filepath.Join(logsDir, "influx_backup.log.gz"))
		if err := m.Connect(); err != nil {
			s.log.Error("Failed to set up InfluxDB, sweep statistics disabled", "error", err)
		} else {
			s.influx = m
		}
	}

	return s, nil
}

// metrics returns the OTel provider when metrics are being collected.
func (s *session) metrics() *intOtel.Provider {
	if s.otel == nil || !s.otel.Enabled() {
		return nil
	}
	return s.otel
}

func (s *session) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("influx: %w", err))
		}
	}
	if err := s.slog.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush logs: %w", err))
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otel: %w", err))
		}
	}
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// engine is an initialized storage backend with the chapter service on top.
type engine struct {
	store    storage.Backend
	chapters *chapter.Service
}

func (s *session) openEngine() (*engine, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg, s.slog, s.zlog)
	if err != nil {
		s.log.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := backend.Init(); err != nil {
		s.log.Error("Failed to initialize storage backend", "error", err)
		return nil, fmt.Errorf("failed to initialize %s storage: %w", storageCfg.Type, err)
	}

	deps := chapter.Dependencies{
		Overviews: backend,
		Details:   backend,
		Maps:      backend,
		Timeline:  backend,
		Logger:    s.log,
	}
	if s.influx != nil {
		deps.Stats = s.influx
	}
	svc, err := chapter.NewService(deps)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &engine{store: backend, chapters: svc}, nil
}

func (e *engine) close() error {
	return e.store.Close()
}
