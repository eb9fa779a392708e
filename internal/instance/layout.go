// Package instance manages the on-disk layout of a single server root:
// the downloaded game tree, the compiled config, backups and logs.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"cs2ctl/internal/log"
)

// Subdirectories of every instance root. The game area is owned by the
// download tool, the rest by this tool.
const (
	GameDir    = "game"
	ConfigDir  = "config"
	BackupsDir = "backups"
	LogsDir    = "logs"
)

// Relative path of the compiled server config inside the game tree.
// The server only reads this location, so compilation always targets it.
var serverCfgRel = filepath.Join(GameDir, "csgo", "cfg", "server.cfg")

// Relative path of the dedicated server binary inside the game tree.
var serverBinRel = filepath.Join(GameDir, "bin", "linuxsteamrt64", "cs2")

// Relative path of the plugin addons directory inside the game tree.
var addonsRel = filepath.Join(GameDir, "csgo", "addons")

// Relative path of the map content directory inside the game tree.
var mapsRel = filepath.Join(GameDir, "csgo", "maps")

// CorruptError reports a structurally damaged instance root.
type CorruptError struct {
	Root   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("instance root %s is corrupt: %s", e.Root, e.Reason)
}

// Layout resolves paths inside one instance root.
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root. The root is cleaned but not
// required to exist yet.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// GamePath returns the game files directory.
func (l Layout) GamePath() string { return filepath.Join(l.Root, GameDir) }

// ConfigPath returns the overlay staging directory.
func (l Layout) ConfigPath() string { return filepath.Join(l.Root, ConfigDir) }

// BackupsPath returns the backup snapshots directory.
func (l Layout) BackupsPath() string { return filepath.Join(l.Root, BackupsDir) }

// LogsPath returns the logs directory.
func (l Layout) LogsPath() string { return filepath.Join(l.Root, LogsDir) }

// ServerCfgPath returns the compiled server.cfg location inside the game tree.
func (l Layout) ServerCfgPath() string { return filepath.Join(l.Root, serverCfgRel) }

// ServerBinPath returns the dedicated server binary location.
func (l Layout) ServerBinPath() string { return filepath.Join(l.Root, serverBinRel) }

// AddonsPath returns the plugin addons directory inside the game tree.
func (l Layout) AddonsPath() string { return filepath.Join(l.Root, addonsRel) }

// MapsPath returns the map content directory inside the game tree.
func (l Layout) MapsPath() string { return filepath.Join(l.Root, mapsRel) }

// PidFilePath returns the location of the running server's pid file.
func (l Layout) PidFilePath() string { return filepath.Join(l.LogsPath(), "server.pid") }

// LockPath returns the per-instance advisory lock location.
func (l Layout) LockPath() string { return filepath.Join(l.Root, ".cs2ctl.lock") }

// Create makes the instance skeleton. It is idempotent so an interrupted
// install can be retried against the same root.
func (l Layout) Create() error {
	for _, dir := range []string{l.Root, l.GamePath(), l.ConfigPath(), l.BackupsPath(), l.LogsPath()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	log.Debug(log.CatInstance, "instance skeleton ready", "root", l.Root)
	return nil
}

// Validate checks the root for structural damage. A missing root or missing
// required subdirectory is reported as a CorruptError.
func (l Layout) Validate() error {
	info, err := os.Stat(l.Root)
	if err != nil {
		return &CorruptError{Root: l.Root, Reason: "root missing"}
	}
	if !info.IsDir() {
		return &CorruptError{Root: l.Root, Reason: "root is not a directory"}
	}
	for _, dir := range []string{l.GamePath(), l.ConfigPath(), l.BackupsPath(), l.LogsPath()} {
		info, err := os.Stat(dir)
		if err != nil {
			return &CorruptError{Root: l.Root, Reason: fmt.Sprintf("missing %s", filepath.Base(dir))}
		}
		if !info.IsDir() {
			return &CorruptError{Root: l.Root, Reason: fmt.Sprintf("%s is not a directory", filepath.Base(dir))}
		}
	}
	return nil
}

// Installed reports whether game files are present, judged by the server
// binary the download tool places.
func (l Layout) Installed() bool {
	info, err := os.Stat(l.ServerBinPath())
	return err == nil && !info.IsDir()
}
