package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(name, root string) *Entry {
	return &Entry{
		Name:      name,
		RootPath:  root,
		CreatedAt: time.Now().UTC(),
		State:     StateUninstalled,
		Config:    NewConfig(),
	}
}

func TestRegistry_AddRejectsDuplicateName(t *testing.T) {
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))

	err := reg.Add(newEntry("main", "/srv/other"))
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestRegistry_AddRejectsDuplicateRoot(t *testing.T) {
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))

	err := reg.Add(newEntry("other", "/srv/main"))
	assert.ErrorIs(t, err, ErrRootTaken)
}

func TestRegistry_EntryUnknown(t *testing.T) {
	reg := &Registry{}
	_, err := reg.Entry("ghost")
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestRegistry_SetState(t *testing.T) {
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))

	require.NoError(t, reg.SetState("main", StateInstalled))
	e, err := reg.Entry("main")
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, e.State)

	assert.ErrorIs(t, reg.SetState("ghost", StateInstalled), ErrUnknownInstance)
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("zulu", "/srv/zulu")))
	require.NoError(t, reg.Add(newEntry("alpha", "/srv/alpha")))
	require.NoError(t, reg.Add(newEntry("mike", "/srv/mike")))

	assert.Equal(t, []string{"alpha", "mike", "zulu"}, reg.Names())
}

func TestRegistry_ConfigIsACopy(t *testing.T) {
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))

	_, err := reg.SetConfigKey("main", "hostname", "My Server")
	require.NoError(t, err)

	cfg, err := reg.Config("main")
	require.NoError(t, err)
	cfg.Overlay["hostname"] = "mutated"

	again, err := reg.Config("main")
	require.NoError(t, err)
	assert.Equal(t, "My Server", again.Overlay["hostname"])
}

func TestRegistry_Remove(t *testing.T) {
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))

	require.NoError(t, reg.Remove("main"))
	_, err := reg.Entry("main")
	assert.ErrorIs(t, err, ErrUnknownInstance)

	assert.ErrorIs(t, reg.Remove("main"), ErrUnknownInstance)
}

func TestInstanceState_Startable(t *testing.T) {
	assert.True(t, StateInstalled.Startable())
	assert.True(t, StateStopped.Startable())
	assert.False(t, StateUninstalled.Startable())
	assert.False(t, StateRunning.Startable())
	assert.False(t, StateFailed.Startable())
}
