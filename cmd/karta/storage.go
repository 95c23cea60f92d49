package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/storyweave/karta/internal/config"
	"github.com/storyweave/karta/internal/database"
	"github.com/storyweave/karta/internal/logging"
	"github.com/storyweave/karta/internal/storage"
	gormstorage "github.com/storyweave/karta/internal/storage/gorm"
	"github.com/storyweave/karta/internal/storage/memory"
	pgstorage "github.com/storyweave/karta/internal/storage/postgres"
	sqlitestorage "github.com/storyweave/karta/internal/storage/sqlite"
)

func createStorageBackend(storageCfg config.StorageConfig, logManager *logging.SlogManager, zlog zerolog.Logger) (storage.Backend, error) {
	log := logManager.Logger()

	switch storageCfg.Type {
	case "postgres":
		log.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			LogManager: logManager,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         storageCfg.SQLite.Path,
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     storageCfg.SQLite.DumpPath,
		}, logManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		log.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path)
		return backend, nil

	case "memory":
		log.Info("Memory storage backend initialized", "snapshot", storageCfg.Memory.SnapshotPath)
		return memory.New(storageCfg.Memory), nil

	case "auto":
		log.Info("Auto storage backend initialized")
		return newAutoBackend(storageCfg.SQLite.Path, logManager, zlog), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// autoBackend connects to Postgres and falls back to SQLite when Postgres
// is unreachable.
type autoBackend struct {
	*gormstorage.Backend
	db         *database.Manager
	logManager *logging.SlogManager
}

func newAutoBackend(sqlitePath string, logManager *logging.SlogManager, zlog zerolog.Logger) *autoBackend {
	db := database.NewManager(zlog)
	db.SqliteFilePath = sqlitePath
	return &autoBackend{db: db, logManager: logManager}
}

func (b *autoBackend) Init() error {
	if err := b.db.Connect(); err != nil {
		return err
	}
	if b.db.ShouldSaveLocal && b.db.SqliteFilePath == "" {
		// shared-cache memory databases lock per table across connections
		b.db.SqlDB.SetMaxOpenConns(1)
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:         b.db.DB,
		LogManager: b.logManager,
	})
	return b.Backend.Init()
}

func (b *autoBackend) Close() error {
	var errs []error
	if b.Backend != nil {
		errs = append(errs, b.Backend.Close())
	}
	if b.db.SqlDB != nil {
		errs = append(errs, b.db.SqlDB.Close())
	}
	return errors.Join(errs...)
}
