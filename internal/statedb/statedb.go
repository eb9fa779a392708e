// Package statedb stores backup and plugin records in a SQLite database
// under the per-user config dir. The registry document stays the source of
// truth for instances; this database only holds per-instance artifacts.
package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"cs2ctl/internal/log"
)

const schemaVersion = 1

const schema = `
CREATE TABLE backups (
	id TEXT PRIMARY KEY,
	instance TEXT NOT NULL,
	label TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	snapshot_dir TEXT NOT NULL,
	UNIQUE (instance, label)
);

CREATE TABLE plugin_records (
	instance TEXT NOT NULL,
	plugin_id TEXT NOT NULL,
	version TEXT NOT NULL,
	installed_at DATETIME NOT NULL,
	artifact_path TEXT NOT NULL,
	UNIQUE (instance, plugin_id)
);
`

// Sentinel errors for record lookups and uniqueness violations.
var (
	ErrDuplicateLabel     = errors.New("backup label already exists for instance")
	ErrBackupNotFound     = errors.New("backup not found")
	ErrAlreadyInstalled   = errors.New("plugin already installed for instance")
	ErrPluginNotInstalled = errors.New("plugin not installed for instance")
)

// Backup is one immutable snapshot record.
type Backup struct {
	ID          string
	Instance    string
	Label       string
	CreatedAt   time.Time
	SnapshotDir string
}

// PluginRecord tracks one installed plugin for an instance.
type PluginRecord struct {
	Instance     string
	PluginID     string
	Version      string
	InstalledAt  time.Time
	ArtifactPath string
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open connects to the database at path, creating it and its schema on first
// use. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating state dir: %w", err)
		}
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatDB, "failed to open state database", err, "path", path)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		log.ErrorErr(log.CatDB, "failed to ping state database", err, "path", path)
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug(log.CatDB, "state database ready", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("state database schema version %d is newer than supported %d", version, schemaVersion)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertBackup records a snapshot. Labels are unique per instance.
func (s *Store) InsertBackup(ctx context.Context, b Backup) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO backups (id, instance, label, created_at, snapshot_dir) VALUES (?, ?, ?, ?, ?)",
		b.ID, b.Instance, b.Label, b.CreatedAt.UTC(), b.SnapshotDir)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", ErrDuplicateLabel, b.Label)
	}
	return err
}

// ListBackups returns an instance's backups in creation order.
func (s *Store) ListBackups(ctx context.Context, instance string) ([]Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, instance, label, created_at, snapshot_dir FROM backups WHERE instance = ? ORDER BY created_at, id",
		instance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Backup
	for rows.Next() {
		var b Backup
		if err := rows.Scan(&b.ID, &b.Instance, &b.Label, &b.CreatedAt, &b.SnapshotDir); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBackup returns the backup recorded under label for instance.
func (s *Store) GetBackup(ctx context.Context, instance, label string) (Backup, error) {
	var b Backup
	err := s.db.QueryRowContext(ctx,
		"SELECT id, instance, label, created_at, snapshot_dir FROM backups WHERE instance = ? AND label = ?",
		instance, label).Scan(&b.ID, &b.Instance, &b.Label, &b.CreatedAt, &b.SnapshotDir)
	if errors.Is(err, sql.ErrNoRows) {
		return Backup{}, fmt.Errorf("%w: %q", ErrBackupNotFound, label)
	}
	return b, err
}

// DeleteBackup removes the record for label.
func (s *Store) DeleteBackup(ctx context.Context, instance, label string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM backups WHERE instance = ? AND label = ?", instance, label)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrBackupNotFound, label)
	}
	return nil
}

// InsertPluginRecord records an installed plugin. One record per plugin per
// instance regardless of version.
func (s *Store) InsertPluginRecord(ctx context.Context, r PluginRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO plugin_records (instance, plugin_id, version, installed_at, artifact_path) VALUES (?, ?, ?, ?, ?)",
		r.Instance, r.PluginID, r.Version, r.InstalledAt.UTC(), r.ArtifactPath)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", ErrAlreadyInstalled, r.PluginID)
	}
	return err
}

// ListPlugins returns an instance's plugin records in install order.
func (s *Store) ListPlugins(ctx context.Context, instance string) ([]PluginRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT instance, plugin_id, version, installed_at, artifact_path FROM plugin_records WHERE instance = ? ORDER BY installed_at, plugin_id",
		instance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PluginRecord
	for rows.Next() {
		var r PluginRecord
		if err := rows.Scan(&r.Instance, &r.PluginID, &r.Version, &r.InstalledAt, &r.ArtifactPath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPlugin returns the record for pluginID on instance.
func (s *Store) GetPlugin(ctx context.Context, instance, pluginID string) (PluginRecord, error) {
	var r PluginRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT instance, plugin_id, version, installed_at, artifact_path FROM plugin_records WHERE instance = ? AND plugin_id = ?",
		instance, pluginID).Scan(&r.Instance, &r.PluginID, &r.Version, &r.InstalledAt, &r.ArtifactPath)
	if errors.Is(err, sql.ErrNoRows) {
		return PluginRecord{}, fmt.Errorf("%w: %q", ErrPluginNotInstalled, pluginID)
	}
	return r, err
}

// RemovePlugin deletes the record for pluginID on instance.
func (s *Store) RemovePlugin(ctx context.Context, instance, pluginID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM plugin_records WHERE instance = ? AND plugin_id = ?", instance, pluginID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrPluginNotInstalled, pluginID)
	}
	return nil
}

// PurgeInstance removes every record tied to a deleted instance.
func (s *Store) PurgeInstance(ctx context.Context, instance string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM backups WHERE instance = ?", instance); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM plugin_records WHERE instance = ?", instance)
	return err
}
