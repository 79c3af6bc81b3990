package store

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

type migration struct {
	version string
	sql     string
}

// migrationScripts returns the embedded SQL for a driver in file name order.
// The file name is the version recorded in schema_migrations.
func migrationScripts(driver string) ([]migration, error) {
	dir := path.Join("migrations", driver)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scripts := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := migrationFiles.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if sql := strings.TrimSpace(string(content)); sql != "" {
			scripts = append(scripts, migration{version: name, sql: sql})
		}
	}
	return scripts, nil
}

// migrator is the driver-specific half of the migration runner.
type migrator interface {
	ensureVersionTable(ctx context.Context) error
	appliedVersions(ctx context.Context) (map[string]bool, error)
	// apply runs the script and records its version in one transaction.
	apply(ctx context.Context, m migration) error
}

func runMigrations(ctx context.Context, driver string, m migrator) error {
	scripts, err := migrationScripts(driver)
	if err != nil {
		return err
	}
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for _, script := range scripts {
		if applied[script.version] {
			continue
		}
		if err := m.apply(ctx, script); err != nil {
			return fmt.Errorf("exec %s migration %s: %w", driver, script.version, err)
		}
	}
	return nil
}
