// Package backup snapshots and restores an instance's configuration state
// under a named label. A snapshot captures both the compiled config file
// bytes and the structured overlay, so a restore rolls back the pair
// together.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	"cs2ctl/internal/instance"
	"cs2ctl/internal/log"
	"cs2ctl/internal/registry"
	"cs2ctl/internal/statedb"
)

const (
	snapshotConfigFile  = "server.cfg"
	snapshotOverlayFile = "overlay.yaml"
)

// Aliases for the underlying record errors, so callers can match them
// without importing statedb.
var (
	ErrDuplicateLabel = statedb.ErrDuplicateLabel
	ErrNotFound       = statedb.ErrBackupNotFound
)

// Snapshot is the recoverable content of one backup.
type Snapshot struct {
	ConfigText []byte
	Overlay    registry.Config
}

// Manager owns backup records and their snapshot directories.
type Manager struct {
	db *statedb.Store
}

// NewManager creates a manager backed by the state database.
func NewManager(db *statedb.Store) *Manager {
	return &Manager{db: db}
}

// Create snapshots the instance's compiled config and overlay under label.
// Labels are unique per instance; a duplicate fails without touching the
// existing backup. Creation is all-or-nothing: the record is only inserted
// after the snapshot files are fully written, and a failed insert removes
// them again.
func (m *Manager) Create(ctx context.Context, name string, lay instance.Layout, label string, overlay registry.Config) (statedb.Backup, error) {
	configText, err := os.ReadFile(lay.ServerCfgPath()) // #nosec G304 -- path comes from the instance layout
	if err != nil {
		return statedb.Backup{}, fmt.Errorf("reading compiled config: %w", err)
	}

	snapshotDir := filepath.Join(lay.BackupsPath(), uuid.NewString())
	if err := os.MkdirAll(snapshotDir, 0o750); err != nil {
		return statedb.Backup{}, fmt.Errorf("creating snapshot dir: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(snapshotDir) }

	if err := os.WriteFile(filepath.Join(snapshotDir, snapshotConfigFile), configText, 0o640); err != nil { // #nosec G306 -- instance-local snapshot
		cleanup()
		return statedb.Backup{}, fmt.Errorf("writing snapshot config: %w", err)
	}
	overlayBytes, err := yaml.Marshal(overlay)
	if err != nil {
		cleanup()
		return statedb.Backup{}, fmt.Errorf("marshaling overlay: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapshotDir, snapshotOverlayFile), overlayBytes, 0o640); err != nil { // #nosec G306 -- instance-local snapshot
		cleanup()
		return statedb.Backup{}, fmt.Errorf("writing snapshot overlay: %w", err)
	}

	b := statedb.Backup{
		ID:          filepath.Base(snapshotDir),
		Instance:    name,
		Label:       label,
		CreatedAt:   time.Now().UTC(),
		SnapshotDir: snapshotDir,
	}
	if err := m.db.InsertBackup(ctx, b); err != nil {
		cleanup()
		return statedb.Backup{}, err
	}
	log.Info(log.CatBackup, "backup created", "instance", name, "label", label, "dir", snapshotDir)
	return b, nil
}

// List returns the instance's backups in creation order.
func (m *Manager) List(ctx context.Context, name string) ([]statedb.Backup, error) {
	return m.db.ListBackups(ctx, name)
}

// Restore loads the snapshot recorded under label. Applying it is the
// caller's job; restoring never mutates the backup itself.
func (m *Manager) Restore(ctx context.Context, name, label string) (Snapshot, error) {
	b, err := m.db.GetBackup(ctx, name, label)
	if err != nil {
		return Snapshot{}, err
	}

	configText, err := os.ReadFile(filepath.Join(b.SnapshotDir, snapshotConfigFile)) // #nosec G304 -- path comes from the backup record
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot config: %w", err)
	}
	overlayBytes, err := os.ReadFile(filepath.Join(b.SnapshotDir, snapshotOverlayFile)) // #nosec G304 -- path comes from the backup record
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot overlay: %w", err)
	}
	var overlay registry.Config
	if err := yaml.Unmarshal(overlayBytes, &overlay); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot overlay: %w", err)
	}

	log.Info(log.CatBackup, "backup loaded for restore", "instance", name, "label", label)
	return Snapshot{ConfigText: configText, Overlay: overlay}, nil
}

// Delete removes the record and snapshot files for label.
func (m *Manager) Delete(ctx context.Context, name, label string) error {
	b, err := m.db.GetBackup(ctx, name, label)
	if err != nil {
		return err
	}
	if err := m.db.DeleteBackup(ctx, name, label); err != nil {
		return err
	}
	if err := os.RemoveAll(b.SnapshotDir); err != nil {
		log.Warn(log.CatBackup, "snapshot dir left behind", "dir", b.SnapshotDir, "error", err)
	}
	return nil
}

// Diff renders the changes between the snapshot's config and the current
// compiled config file.
func (m *Manager) Diff(ctx context.Context, name string, lay instance.Layout, label string) (string, error) {
	snap, err := m.Restore(ctx, name, label)
	if err != nil {
		return "", err
	}
	current, err := os.ReadFile(lay.ServerCfgPath()) // #nosec G304 -- path comes from the instance layout
	if err != nil {
		return "", fmt.Errorf("reading compiled config: %w", err)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(snap.ConfigText), string(current), true)
	dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs), nil
}
