package db

import (
	"strings"
	"sync"

	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/pkg/env"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it on first use.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		vars := env.Variables()
		gdb, err := Open(vars.DatabaseType, vars.DatabaseDSN)
		if err != nil {
			log.Fatal("failed to connect to database", "type", vars.DatabaseType, "error", err)
		}
		conn = gdb
	})

	return conn
}

// Open connects to the database of the given type ("postgres" or "sqlite").
func Open(kind, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "postgres", "postgresql":
		gdb, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres")
		}
		return gdb, nil
	case "sqlite", "":
		gdb, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		// sqlite allows a single writer; funnel everything through one
		// connection so transactions queue instead of failing with SQLITE_BUSY.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, errors.Wrap(err, "sqlite handle")
		}
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	default:
		return nil, errors.Errorf("unsupported database type %q", kind)
	}
}

// Migrate applies the schema for every model.
func Migrate() error {
	return MigrateDB(Connection())
}

// MigrateDB applies the schema on the provided handle.
func MigrateDB(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(models.All...); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}
