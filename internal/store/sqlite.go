package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"crontabd/internal/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

var tenantNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Manager opens and caches one SQLite-backed task store per tenant, each in
// its own database file under the state directory. It is the tenant→store
// resolver handed to the crontab.
type Manager struct {
	stateDir string
	logger   *slog.Logger

	mu     sync.Mutex
	stores map[string]*SQLiteStore
}

func NewManager(stateDir string, logger *slog.Logger) *Manager {
	return &Manager{
		stateDir: stateDir,
		logger:   logger,
		stores:   make(map[string]*SQLiteStore),
	}
}

// ForTenant returns the tenant's store, opening and migrating its database
// on first use. Tenant names are restricted because they become file names.
func (m *Manager) ForTenant(tenant string) (core.TaskStore, error) {
	if !tenantNamePattern.MatchString(tenant) {
		return nil, fmt.Errorf("invalid tenant name %q", tenant)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[tenant]; ok {
		return s, nil
	}

	dir := filepath.Join(m.stateDir, "tenants")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure tenant dir: %w", err)
	}
	s, err := openSQLite(context.Background(), filepath.Join(dir, tenant+".sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open store for tenant %q: %w", tenant, err)
	}
	m.logger.Info("opened tenant store", "tenant", tenant)
	m.stores[tenant] = s
	return s, nil
}

// Close closes every opened tenant database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for tenant, s := range m.stores {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store for tenant %q: %w", tenant, err)
		}
	}
	m.stores = make(map[string]*SQLiteStore)
	return firstErr
}

// SQLiteStore persists one tenant's tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// openSQLite opens the database and runs migrations. SQLite allows only one
// writer; a single pooled connection keeps WAL and busy_timeout consistently
// applied and serializes writes within the process.
func openSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	timeout := int((3 * time.Second) / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	type mig struct {
		Version string
		SQL     string
	}
	entries := []mig{
		{Version: "0001_init", SQL: mustReadMigration("migrations/0001_init.sql")},
	}
	for _, entry := range entries {
		var count int
		err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, entry.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, entry.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
			entry.Version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Version, err)
		}
	}
	return nil
}

func mustReadMigration(path string) string {
	data, err := migrations.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("read migration %s: %v", path, err))
	}
	return string(data)
}
