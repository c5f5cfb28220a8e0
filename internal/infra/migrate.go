package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const migrationsSubdir = "db/migrations"

// RunMigrations applies all pending migrations from the nearest db/migrations directory.
func RunMigrations(dsn string, logger *slog.Logger) error {
	dir, err := FindMigrationDir()
	if err != nil {
		return err
	}
	version, dirty, err := MigrateUp(dir, dsn)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "dir", dir, "version", version, "dirty", dirty)
	return nil
}

// MigrateUp applies the migrations in dir and reports the resulting schema version.
func MigrateUp(dir, dsn string) (uint, bool, error) {
	m, err := migrate.New("file://"+filepath.ToSlash(dir), dsn)
	if err != nil {
		return 0, false, fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// FindMigrationDir walks up from the working directory to the first db/migrations.
func FindMigrationDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	for {
		candidate := filepath.Join(dir, migrationsSubdir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory above the working directory", migrationsSubdir)
		}
		dir = parent
	}
}
