// Package postgres implements the storage.Backend interface on PostgreSQL.
// It embeds the GORM backend and only owns the connection setup.
package postgres

import (
	"fmt"

	"github.com/storyweave/karta/internal/database"
	"github.com/storyweave/karta/internal/logging"
	gormstorage "github.com/storyweave/karta/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	// DB is optional. Init connects with the db.* settings when it is nil.
	DB         *gorm.DB
	LogManager *logging.SlogManager
}

// Backend implements storage.Backend using GORM/PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps}
}

// Init connects if needed, then migrates the schema and starts the writers of
// the embedded GORM backend.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDBStandalone()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:         b.deps.DB,
		LogManager: b.deps.LogManager,
	})
	return b.Backend.Init()
}

// Close stops the embedded GORM backend.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
