// Package migrations предоставляет встроенные SQL-миграции PostgreSQL-бэкенда.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhub/internal/logger"
)

// Files содержит все .sql файлы из этой директории (порядок важен: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS

// Apply выполняет миграции по порядку. Файлы идемпотентны (IF NOT EXISTS),
// поэтому запускаются при каждом старте.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return fmt.Errorf("migrations.Apply: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrations.Apply read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("migrations.Apply %s: %w", name, err)
		}
	}
	logger.Infof("migrations applied (%d files)", len(names))
	return nil
}
