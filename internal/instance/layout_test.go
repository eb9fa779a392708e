package instance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_CreateIsIdempotent(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "main"))

	require.NoError(t, l.Create())
	require.NoError(t, l.Create())
	assert.NoError(t, l.Validate())
}

func TestLayout_ValidateMissingRoot(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "nope"))

	err := l.Validate()
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "root missing")
}

func TestLayout_ValidateMissingSubdir(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "main"))
	require.NoError(t, l.Create())
	require.NoError(t, os.RemoveAll(l.BackupsPath()))

	err := l.Validate()
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "backups")
}

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/srv/main")

	assert.Equal(t, "/srv/main/game", l.GamePath())
	assert.Equal(t, "/srv/main/game/csgo/cfg/server.cfg", l.ServerCfgPath())
	assert.Equal(t, "/srv/main/game/csgo/addons", l.AddonsPath())
	assert.Equal(t, "/srv/main/game/csgo/maps", l.MapsPath())
	assert.Equal(t, "/srv/main/logs/server.pid", l.PidFilePath())
	assert.Equal(t, "/srv/main/.cs2ctl.lock", l.LockPath())
}

func TestLayout_Installed(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "main"))
	require.NoError(t, l.Create())
	assert.False(t, l.Installed())

	require.NoError(t, os.MkdirAll(filepath.Dir(l.ServerBinPath()), 0o750))
	require.NoError(t, os.WriteFile(l.ServerBinPath(), []byte("#!/bin/sh\n"), 0o750))
	assert.True(t, l.Installed())
}
