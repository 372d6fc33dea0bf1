// Package database opens the SQL databases behind the gorm score sink.
package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/model"
)

// memoryDSN is a shared-cache in-memory database, so every pooled
// connection sees the same data.
const memoryDSN = "file::memory:?cache=shared"

var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

func gormConfig(batch int) *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        batch,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// OpenPostgres connects to Postgres and pings it before returning.
func OpenPostgres(cfg config.PostgresConfig, log zerolog.Logger) (*gorm.DB, error) {
	log.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("connecting to postgres")

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: cfg.DSN(), PreferSimpleProtocol: true}), gormConfig(1000))
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	pool.SetMaxOpenConns(10)
	if err := pool.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	log.Info().Str("host", cfg.Host).Msg("postgres ready")
	return db, nil
}

// OpenSQLite opens the database at path, or a shared in-memory one when path
// is empty.
func OpenSQLite(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = memoryDSN
	}
	cfg := gormConfig(500)
	cfg.PrepareStmt = true

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	ev := log.Info().Bool("inMemory", path == "")
	if path != "" {
		ev = ev.Str("path", path)
	}
	ev.Msg("sqlite ready")
	return db, nil
}

// Setup migrates the schema.
func Setup(db *gorm.DB, log zerolog.Logger) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info().Int("tables", len(model.DatabaseModels)).Msg("schema migrated")
	return nil
}

// DumpMemoryDBToDisk writes a copy of db to dst and reports how long it took.
func DumpMemoryDBToDisk(db *gorm.DB, dst string) (time.Duration, error) {
	if dst == "" {
		return 0, errors.New("no dump path configured")
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("removing previous dump: %w", err)
	}

	start := time.Now()
	if err := db.Exec("VACUUM INTO ?", dst).Error; err != nil {
		return 0, fmt.Errorf("dumping to %s: %w", dst, err)
	}
	return time.Since(start), nil
}
