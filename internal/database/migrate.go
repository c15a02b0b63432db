// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、スキーマが不整合な状態を表す。
// スキーマを手動で修正し、schema_migrationsのdirtyを解除するまで自動適用しない。
var ErrDirtySchema = errors.New("database schema is dirty")

// MigrationResult はマイグレーション適用前後のスキーマバージョン。
// 未適用のデータベースのバージョンは0。
type MigrationResult struct {
	From uint
	To   uint
}

// Applied はこの実行でマイグレーションが適用されたかを返す。
func (r MigrationResult) Applied() bool {
	return r.From != r.To
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return src, nil
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migration source: %w", err)
		}
		version = next
	}
}

// RunMigrations は未適用のマイグレーションをすべて適用し、前後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。スキーマがdirtyの場合はErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{From: from}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from}, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{From: from}, err
	}
	return MigrationResult{From: from, To: to}, nil
}

func schemaVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}
