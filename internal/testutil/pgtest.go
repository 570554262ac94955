// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// PGTest opens a test database connection, applies the goose migrations from
// the project migrations/ directory, and returns the *sql.DB plus a cleanup
// function.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL is used when set. Otherwise a throwaway postgres container is
// started once per test binary; the test is skipped when Docker is unavailable
// or when running with -short.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		if testing.Short() {
			t.Skip("POSTGRES_URL not set and -short given, skipping integration test")
		}
		testcontainers.SkipIfProviderIsNotHealthy(t)
		dbURL = sharedContainer(t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()

	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: goose dialect: %v", err)
	}
	if err := goose.UpContext(ctx, db, findMigrationsDir(t)); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
	}

	return db, cleanup
}

// sharedContainer starts the postgres container on first use. It lives until
// the test binary exits.
func sharedContainer(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ctr, err := postgres.Run(ctx, postgresImage,
			postgres.WithDatabase("bankguard_test"),
			postgres.WithUsername("bankguard"),
			postgres.WithPassword("bankguard"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerURL, containerErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("pgtest: postgres container unavailable: %v", containerErr)
	}
	return containerURL
}

// findMigrationsDir walks up from the test working directory to find
// the project-level migrations/ directory.
func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("pgtest: could not find migrations/ directory walking up from cwd")
		}
		dir = parent
	}
}

// truncateAll truncates all application tables to provide a clean slate
// between tests. The goose version table is kept so migrations are not
// re-applied.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename NOT LIKE 'pg_%'
		  AND tablename NOT LIKE 'sql_%'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		// Table names come from pg_tables, not user input.
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202
		_, _ = db.ExecContext(ctx, stmt)
	}
}
