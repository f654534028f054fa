package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/resources"
)

const dsnParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

var _ db.Client = (*sqliteClient)(nil)

func NewSQLiteClient(ctx context.Context, dir string, fileName string) (*sqliteClient, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}
	dbx, err := sqlx.ConnectContext(ctx, "sqlite", filepath.Join(dir, fileName)+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if n > 0 {
		log.WithField("object", "sqliteClient").Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}, nil
}

func (s *sqliteClient) Close() error {
	return s.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
