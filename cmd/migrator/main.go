// Command migrator applies the SQL migrations in order. Applied files
// are recorded in schema_migrations, so reruns are no-ops.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "/migrations"
	}

	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.Fatalf("parse DATABASE_URL: %v", err)
	}
	// Migration files contain multiple statements, which the extended
	// protocol refuses.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	cfg.ConnConfig.RuntimeParams["application_name"] = "savoro-migrator"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := run(ctx, pool, migrationsDir); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            name TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	pending, err := pendingMigrations(ctx, pool, migrationsDir)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Print("schema is up to date")
		return nil
	}

	for _, path := range pending {
		if err := applyMigration(ctx, pool, path); err != nil {
			return err
		}
	}

	log.Printf("migrations complete (applied=%d)", len(pending))
	return nil
}

// pendingMigrations lists the *.up.sql files not yet recorded in
// schema_migrations, sorted by file name. Down migrations are never
// applied automatically.
func pendingMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations in %s: %w", dir, err)
	}
	sort.Strings(paths)

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, "SELECT name FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}

	var pending []string
	for _, path := range paths {
		name := filepath.Base(path)
		if applied[name] {
			log.Printf("skip %s (already applied)", name)
			continue
		}
		pending = append(pending, path)
	}
	return pending, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, path string) error {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".up.sql") {
		return fmt.Errorf("refusing to apply %s: not an up migration", name)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	log.Printf("applying %s", name)
	start := time.Now()

	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx,
		"INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name,
	); err != nil {
		return fmt.Errorf("mark applied %s: %w", name, err)
	}

	log.Printf("applied %s in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}
