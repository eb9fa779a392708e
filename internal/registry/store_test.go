package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "registry.yaml"), 5*time.Second)
}

func TestStore_LoadMissingFileIsEmpty(t *testing.T) {
	s := tempStore(t)
	reg, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reg.Instances)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	reg := &Registry{}
	e := newEntry("main", "/srv/main")
	e.Config.Overlay["hostname"] = "Round Trip"
	require.NoError(t, reg.Add(e))
	require.NoError(t, s.Save(ctx, reg))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Instances, 1)
	got := loaded.Instances[0]
	assert.Equal(t, "main", got.Name)
	assert.Equal(t, "/srv/main", got.RootPath)
	assert.Equal(t, StateUninstalled, got.State)
	assert.Equal(t, "Round Trip", got.Config.Overlay["hostname"])
	assert.Equal(t, DefaultPort, got.Config.Port)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Save(context.Background(), &Registry{}))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	for _, de := range entries {
		assert.NotContains(t, de.Name(), ".tmp")
	}
}

func TestStore_LoadCorruptDocument(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o750))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not yaml: [\n"), 0o600))

	_, err := s.Load(context.Background())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, s.Path(), corrupt.Path)
}

func TestStore_LoadLenientRecoversGoodEntries(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o750))

	// One well formed entry and one with a scalar where a mapping belongs.
	doc := `instances:
  - name: main
    root_path: /srv/main
    last_known_state: installed
    config:
      port: 27015
  - "mangled beyond repair"
`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o600))

	reg, err := s.LoadLenient(context.Background())
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	require.Len(t, reg.Instances, 1)
	assert.Equal(t, "main", reg.Instances[0].Name)
	assert.Equal(t, StateInstalled, reg.Instances[0].State)
}

func TestStore_LoadLenientCleanDocument(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))
	require.NoError(t, s.Save(ctx, reg))

	loaded, err := s.LoadLenient(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Instances, 1)
}

func TestStore_UpdateAbortsWithoutSaving(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	reg := &Registry{}
	require.NoError(t, reg.Add(newEntry("main", "/srv/main")))
	require.NoError(t, s.Save(ctx, reg))

	boom := errors.New("boom")
	err := s.Update(ctx, func(r *Registry) error {
		require.NoError(t, r.SetState("main", StateFailed))
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUninstalled, loaded.Instances[0].State)
}

func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(r *Registry) error {
		return r.Add(newEntry("main", "/srv/main"))
	}))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.Update(ctx, func(r *Registry) error {
				_, err := r.SetConfigKey("main", "hostname", "writer")
				if err != nil {
					return err
				}
				// Flip state back and forth so a lost update would show
				// as a torn document, not just a missing key.
				return r.SetState("main", StateStopped)
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Instances, 1)
	assert.Equal(t, "writer", loaded.Instances[0].Config.Overlay["hostname"])
	assert.Equal(t, StateStopped, loaded.Instances[0].State)
}
