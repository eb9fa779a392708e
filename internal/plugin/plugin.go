// Package plugin tracks a catalog of recommended server plugins and
// installs their artifacts into an instance's game tree, recording installed
// versions in the state database.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cs2ctl/internal/instance"
	"cs2ctl/internal/log"
	"cs2ctl/internal/statedb"
)

// ErrUnknownPlugin is returned when a plugin id is neither in the catalog
// nor a direct download URL.
var ErrUnknownPlugin = errors.New("unknown plugin")

// ErrAlreadyInstalled aliases the record error so callers can match it
// without importing statedb.
var ErrAlreadyInstalled = statedb.ErrAlreadyInstalled

// Plugin is one catalog entry.
type Plugin struct {
	ID          string
	Description string
	Version     string
	URL         string
}

// recommended is the static catalog, ordered so dependencies come before the
// plugins that need them.
var recommended = []Plugin{
	{
		ID:          "metamod",
		Description: "Metamod:Source plugin loader, required by SourceMod",
		Version:     "2.0",
		URL:         "https://mms.alliedmods.net/mmsdrop/2.0/mmsource-2.0-latest-linux.tar.gz",
	},
	{
		ID:          "sourcemod",
		Description: "SourceMod server administration and scripting",
		Version:     "1.12",
		URL:         "https://sm.alliedmods.net/smdrop/1.12/sourcemod-1.12-latest-linux.tar.gz",
	},
	{
		ID:          "steamworks",
		Description: "SteamWorks extension exposing the Steam API to SourceMod",
		Version:     "1.2.3",
		URL:         "https://github.com/KyleSanderson/SteamWorks/releases/latest/download/package-lin.tgz",
	},
	{
		ID:          "dhooks",
		Description: "Dynamic detour hooks for SourceMod plugins",
		Version:     "2.2",
		URL:         "https://github.com/peace-maker/DHooks2/releases/latest/download/dhooks-linux.zip",
	},
	{
		ID:          "accelerator",
		Description: "Crash dump collection and reporting",
		Version:     "2.4",
		URL:         "https://builds.limetech.io/files/accelerator-latest-linux.zip",
	},
}

// Recommended returns the catalog in its fixed order. It never touches disk
// or network.
func Recommended() []Plugin {
	out := make([]Plugin, len(recommended))
	copy(out, recommended)
	return out
}

// Manager installs and tracks plugins for instances.
type Manager struct {
	db      *statedb.Store
	client  *http.Client
	catalog []Plugin
}

// NewManager creates a manager backed by the state database.
func NewManager(db *statedb.Store) *Manager {
	return &Manager{
		db:      db,
		client:  &http.Client{Timeout: 5 * time.Minute},
		catalog: Recommended(),
	}
}

// resolve maps pluginID to a catalog entry. A URL is accepted directly so
// operators can install plugins the catalog does not model.
func (m *Manager) resolve(pluginID string) (Plugin, error) {
	for _, p := range m.catalog {
		if p.ID == pluginID {
			return p, nil
		}
	}
	if strings.HasPrefix(pluginID, "http://") || strings.HasPrefix(pluginID, "https://") {
		id := strings.TrimSuffix(path.Base(pluginID), path.Ext(path.Base(pluginID)))
		return Plugin{ID: id, Description: "direct download", Version: "custom", URL: pluginID}, nil
	}
	return Plugin{}, fmt.Errorf("%w: %q", ErrUnknownPlugin, pluginID)
}

// Install downloads the plugin artifact into the instance's addons dir and
// records it. Reinstalling an already recorded plugin fails with
// AlreadyInstalled regardless of version. Install is all-or-nothing: the
// record is written only after the artifact is in place, and a failed record
// removes the artifact again.
func (m *Manager) Install(ctx context.Context, name string, lay instance.Layout, pluginID string) (statedb.PluginRecord, error) {
	p, err := m.resolve(pluginID)
	if err != nil {
		return statedb.PluginRecord{}, err
	}
	if _, err := m.db.GetPlugin(ctx, name, p.ID); err == nil {
		return statedb.PluginRecord{}, fmt.Errorf("%w: %q", statedb.ErrAlreadyInstalled, p.ID)
	}

	addons := lay.AddonsPath()
	if err := os.MkdirAll(addons, 0o750); err != nil {
		return statedb.PluginRecord{}, fmt.Errorf("creating addons dir: %w", err)
	}

	artifact := filepath.Join(addons, fmt.Sprintf("%s-%s%s", p.ID, p.Version, path.Ext(p.URL)))
	if err := m.download(ctx, p.URL, artifact); err != nil {
		return statedb.PluginRecord{}, err
	}

	record := statedb.PluginRecord{
		Instance:     name,
		PluginID:     p.ID,
		Version:      p.Version,
		InstalledAt:  time.Now().UTC(),
		ArtifactPath: artifact,
	}
	if err := m.db.InsertPluginRecord(ctx, record); err != nil {
		_ = os.Remove(artifact)
		return statedb.PluginRecord{}, err
	}
	log.Info(log.CatPlugin, "plugin installed", "instance", name, "plugin", p.ID, "version", p.Version)
	return record, nil
}

// download fetches url into dest via a temp file, so an interrupted transfer
// never leaves a half-written artifact at the final path.
func (m *Manager) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	temp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("creating download temp file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := io.Copy(temp, resp.Body); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("placing artifact: %w", err)
	}
	return nil
}

// List returns the instance's plugin records in install order.
func (m *Manager) List(ctx context.Context, name string) ([]statedb.PluginRecord, error) {
	return m.db.ListPlugins(ctx, name)
}

// Remove deletes the record and the artifact for pluginID.
func (m *Manager) Remove(ctx context.Context, name, pluginID string) error {
	record, err := m.db.GetPlugin(ctx, name, pluginID)
	if err != nil {
		return err
	}
	if err := m.db.RemovePlugin(ctx, name, pluginID); err != nil {
		return err
	}
	if err := os.Remove(record.ArtifactPath); err != nil && !os.IsNotExist(err) {
		log.Warn(log.CatPlugin, "plugin artifact left behind", "path", record.ArtifactPath, "error", err)
	}
	log.Info(log.CatPlugin, "plugin removed", "instance", name, "plugin", pluginID)
	return nil
}
