// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// マイグレーションはドライバごとのディレクトリから読み込む。
//
// PostgreSQLはURLから専用の接続を開くため、使用後はCloseすること。
// SQLiteはStoreの共有接続をそのまま使うため、Closeすると Store も閉じられる。
func NewMigrator(store *Store) (*migrate.Migrate, error) {
	driver := store.DriverName()

	source, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	switch driver {
	case DriverPostgres:
		m, err := migrate.NewWithSourceInstance("iofs", source, store.url)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil
	case DriverSQLite:
		instance, err := migratesqlite.WithInstance(store.DB(), &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, DriverSQLite, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported driver for migrations: %s", driver)
	}
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返るため、起動のたびに呼び出してよい。
func RunMigrations(store *Store) error {
	m, err := NewMigrator(store)
	if err != nil {
		return err
	}
	if store.DriverName() == DriverPostgres {
		defer m.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
