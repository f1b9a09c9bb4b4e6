package store

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Las migraciones SQL se embeben en el binario (ver migrations/postgres).
// Formato de archivo: {version}_{name}.sql (ej: 0001_profiles_members.sql)

// SQLExecutor abstrae el pool de pgx para el Migrator.
type SQLExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryVersions(ctx context.Context, sql string) ([]int, error)
}

// Migrator aplica migraciones SQL a una base de datos.
type Migrator struct {
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator crea un nuevo Migrator.
func NewMigrator(migrationsFS fs.FS, migrationsDir string) *Migrator {
	return &Migrator{migrationsFS: migrationsFS, migrationsDir: migrationsDir}
}

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Duration time.Duration
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y parsea las migraciones del FS, ordenadas por versión.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read dir: %w", err)
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(e.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		content, err := fs.ReadFile(m.migrationsFS, path.Join(m.migrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrate: reading %s: %w", e.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: matches[2], SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Run aplica las migraciones pendientes.
func (m *Migrator) Run(ctx context.Context, exec SQLExecutor) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{}

	if _, err := exec.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _rebano_migrations (
			version INT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`); err != nil {
		return result, fmt.Errorf("migrate: creating migrations table: %w", err)
	}

	versions, err := exec.QueryVersions(ctx, `SELECT version FROM _rebano_migrations`)
	if err != nil {
		return result, fmt.Errorf("migrate: getting applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	migrations, err := m.ParseMigrations()
	if err != nil {
		return result, err
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}
		if _, err := exec.Exec(ctx, mig.SQL); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("migrate: applying %d_%s: %w", mig.Version, mig.Name, err)
		}
		if _, err := exec.Exec(ctx,
			`INSERT INTO _rebano_migrations (version, name) VALUES ($1, $2)`,
			mig.Version, mig.Name,
		); err != nil {
			return result, fmt.Errorf("migrate: recording %d: %w", mig.Version, err)
		}
		result.Applied = append(result.Applied, mig.Version)
	}

	result.Duration = time.Since(start)
	return result, nil
}
