package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

func TestMigrationsArePairedAndNonEmpty(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err)

	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		require.False(t, byVersion[version][direction], "duplicate %s migration for version %s", direction, version)
		byVersion[version][direction] = true

		body, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		require.NoError(t, err)
		require.NotEmpty(t, strings.TrimSpace(string(body)), entry.Name())
	}

	require.NotEmpty(t, byVersion, "no migrations discovered")
	for version, dirs := range byVersion {
		require.True(t, dirs["up"] && dirs["down"], "version %s must include both up and down files", version)
	}
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PIPEMATE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PIPEMATE_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, applyDownMigrations(ctx, db))
	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))

	// a second run is a no-op
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM blocks`).Scan(&count))
	require.Positive(t, count)
}

func applyDownMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	var downs []string
	for _, entry := range entries {
		if match := migrationName.FindStringSubmatch(entry.Name()); match != nil && match[2] == "down" {
			downs = append(downs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range downs {
		body, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func TestConcurrentMigrationRunsApplyOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, applyDownMigrations(ctx, db))
	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- ApplyMigrations(ctx, db, migrationsDir) }()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&count))
	files, err := upMigrations(migrationsDir)
	require.NoError(t, err)
	require.Equal(t, len(files), count)
}
