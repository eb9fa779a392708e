package orchestrator

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

	"cs2ctl/internal/config"
	"cs2ctl/internal/instance"
	"cs2ctl/internal/process"
	"cs2ctl/internal/registry"
	"cs2ctl/internal/statedb"
	"cs2ctl/internal/steam"
	"cs2ctl/internal/tracing"
)

// fakeGateway simulates steamcmd: a successful install materializes the
// server binary so the layout reports installed.
type fakeGateway struct {
	mu         sync.Mutex
	installErr error
	updateErr  error
	installs   []string
	updates    []string
}

func (g *fakeGateway) Install(_ context.Context, installDir string, _ steam.Credentials) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.installErr != nil {
		return g.installErr
	}
	g.installs = append(g.installs, installDir)
	bin := filepath.Join(installDir, "bin", "linuxsteamrt64", "cs2")
	if err := os.MkdirAll(filepath.Dir(bin), 0o750); err != nil {
		return err
	}
	return os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o750)
}

func (g *fakeGateway) Update(_ context.Context, installDir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return g.updateErr
	}
	g.updates = append(g.updates, installDir)
	return nil
}

// fakeController tracks live processes in memory, keyed by pid file.
type fakeController struct {
	mu       sync.Mutex
	running  map[string]process.Handle
	nextPID  int
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{running: map[string]process.Handle{}, nextPID: 1000}
}

func (c *fakeController) Start(_ context.Context, spec process.StartSpec) (process.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return process.Handle{}, c.startErr
	}
	if _, ok := c.running[spec.PidFile]; ok {
		return process.Handle{}, process.ErrAlreadyRunning
	}
	c.nextPID++
	h := process.Handle{Instance: spec.Instance, PID: c.nextPID, StartedAt: time.Now().UTC()}
	c.running[spec.PidFile] = h
	return h, nil
}

func (c *fakeController) Stop(_ context.Context, pidFile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[pidFile]; !ok {
		return process.ErrNotRunning
	}
	delete(c.running, pidFile)
	return nil
}

func (c *fakeController) Poll(pidFile string) (process.PollStatus, process.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.running[pidFile]; ok {
		return process.StatusAlive, h
	}
	return process.StatusNotRunning, process.Handle{}
}

func newTestOrch(t *testing.T) (*Orchestrator, *fakeGateway, *fakeController, *registry.Store) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ServersDir = filepath.Join(t.TempDir(), "servers")
	cfg.Locking.Wait = 2 * time.Second

	store := registry.NewStore(filepath.Join(t.TempDir(), "registry.yaml"), 2*time.Second)
	db, err := statedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	provider, err := tracing.NewProvider(tracing.Config{Enabled: false})
	require.NoError(t, err)

	gw := &fakeGateway{}
	proc := newFakeController()
	return New(cfg, store, db, gw, proc, provider.Tracer()), gw, proc, store
}

func mustState(t *testing.T, store *registry.Store, name string, want registry.InstanceState) {
	t.Helper()
	reg, err := store.Load(context.Background())
	require.NoError(t, err)
	e, err := reg.Entry(name)
	require.NoError(t, err)
	assert.Equal(t, want, e.State)
}

func serverCfgPath(t *testing.T, store *registry.Store, name string) string {
	t.Helper()
	reg, err := store.Load(context.Background())
	require.NoError(t, err)
	e, err := reg.Entry(name)
	require.NoError(t, err)
	return instance.NewLayout(e.RootPath).ServerCfgPath()
}

func TestLifecycle_InstallStartStop(t *testing.T) {
	o, gw, _, store := newTestOrch(t)
	ctx := context.Background()

	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	mustState(t, store, "alpha", registry.StateInstalled)
	require.Len(t, gw.installs, 1)

	// The compiled config exists with the defaults.
	data, err := os.ReadFile(serverCfgPath(t, store, "alpha"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hostname")

	_, err = o.SetConfig(ctx, "alpha", "maxplayers", "16")
	require.NoError(t, err)
	data, err = os.ReadFile(serverCfgPath(t, store, "alpha"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "maxplayers 16")

	h, err := o.Start(ctx, "alpha")
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)
	mustState(t, store, "alpha", registry.StateRunning)

	require.NoError(t, o.Stop(ctx, "alpha"))
	mustState(t, store, "alpha", registry.StateStopped)

	// A stopped instance starts again.
	_, err = o.Start(ctx, "alpha")
	require.NoError(t, err)
	mustState(t, store, "alpha", registry.StateRunning)
}

func TestStart_AlreadyRunning(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()

	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.Start(ctx, "alpha")
	require.NoError(t, err)

	_, err = o.Start(ctx, "alpha")
	assert.ErrorIs(t, err, process.ErrAlreadyRunning)
}

func TestStart_UnknownInstance(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	_, err := o.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, registry.ErrUnknownInstance)
}

func TestStart_RequiresInstall(t *testing.T) {
	o, gw, _, store := newTestOrch(t)
	ctx := context.Background()

	gw.installErr = errors.New("network down")
	require.Error(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	mustState(t, store, "alpha", registry.StateUninstalled)

	_, err := o.Start(ctx, "alpha")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestStart_EarlyExitMapsToState(t *testing.T) {
	o, _, proc, store := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	proc.startErr = &process.EarlyExitError{Code: 0}
	_, err := o.Start(ctx, "alpha")
	require.Error(t, err)
	mustState(t, store, "alpha", registry.StateStopped)

	proc.startErr = &process.EarlyExitError{Code: 1}
	_, err = o.Start(ctx, "alpha")
	require.Error(t, err)
	mustState(t, store, "alpha", registry.StateFailed)
}

func TestFailedInstance_RejectsEverythingButInstallAndUpdate(t *testing.T) {
	o, _, _, store := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	require.NoError(t, store.Update(ctx, func(r *registry.Registry) error {
		return r.SetState("alpha", registry.StateFailed)
	}))

	_, err := o.Start(ctx, "alpha")
	assert.ErrorIs(t, err, ErrInstanceFailed)
	assert.ErrorIs(t, o.Stop(ctx, "alpha"), ErrInstanceFailed)
	_, err = o.Backup(ctx, "alpha", "label")
	assert.ErrorIs(t, err, ErrInstanceFailed)
	_, err = o.SetConfig(ctx, "alpha", "hostname", "x")
	assert.ErrorIs(t, err, ErrInstanceFailed)

	// Update is the recovery path.
	require.NoError(t, o.Update(ctx, "alpha"))
	mustState(t, store, "alpha", registry.StateInstalled)
}

func TestInstall_OverCompletedInstallRejected(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	err := o.Install(ctx, "alpha", "", steam.Credentials{})
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
}

func TestInstall_RetryAfterFailureResumes(t *testing.T) {
	o, gw, _, store := newTestOrch(t)
	ctx := context.Background()

	gw.installErr = errors.New("transfer interrupted")
	require.Error(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	mustState(t, store, "alpha", registry.StateUninstalled)

	gw.installErr = nil
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	mustState(t, store, "alpha", registry.StateInstalled)
}

func TestUpdate_WhileRunningRejected(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.Start(ctx, "alpha")
	require.NoError(t, err)

	assert.ErrorIs(t, o.Update(ctx, "alpha"), ErrInstanceRunning)
}

func TestStop_DeadProcessMarksFailed(t *testing.T) {
	o, _, proc, store := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.Start(ctx, "alpha")
	require.NoError(t, err)

	// The server dies outside of tool control.
	proc.mu.Lock()
	proc.running = map[string]process.Handle{}
	proc.mu.Unlock()

	err = o.Stop(ctx, "alpha")
	assert.ErrorIs(t, err, process.ErrNotRunning)
	mustState(t, store, "alpha", registry.StateFailed)
}

func TestStatus_ReconcilesDeadRunner(t *testing.T) {
	o, _, proc, store := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.Start(ctx, "alpha")
	require.NoError(t, err)

	proc.mu.Lock()
	proc.running = map[string]process.Handle{}
	proc.mu.Unlock()

	report, err := o.Status(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, report.Alive)
	assert.Equal(t, registry.StateFailed, report.Entry.State)
	mustState(t, store, "alpha", registry.StateFailed)
}

func TestStatus_AliveReportsPID(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	h, err := o.Start(ctx, "alpha")
	require.NoError(t, err)

	report, err := o.Status(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, report.Alive)
	assert.Equal(t, h.PID, report.PID)
	assert.Equal(t, registry.StateRunning, report.Entry.State)
}

func TestList_SortedReports(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "zulu", "", steam.Credentials{}))
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	reports, err := o.List(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "alpha", reports[0].Entry.Name)
	assert.Equal(t, "zulu", reports[1].Entry.Name)
}

func TestSetConfig_PortTargetsTypedField(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	cfg, err := o.SetConfig(ctx, "alpha", "port", "27020")
	require.NoError(t, err)
	assert.Equal(t, 27020, cfg.Port)
	assert.NotContains(t, cfg.Overlay, "port")

	_, err = o.SetConfig(ctx, "alpha", "port", "not-a-port")
	assert.Error(t, err)
}

func TestSetConfig_ConcurrentWritesBothVisible(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := o.SetConfig(ctx, "alpha", "hostname", "Race Host")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := o.SetConfig(ctx, "alpha", "maxplayers", "24")
		assert.NoError(t, err)
	}()
	wg.Wait()

	cfg, err := o.GetConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "Race Host", cfg.Overlay["hostname"])
	assert.Equal(t, "24", cfg.Overlay["maxplayers"])
}

func TestBackupRestore_RollsBackFileAndOverlay(t *testing.T) {
	o, _, _, store := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.SetConfig(ctx, "alpha", "hostname", "Before")
	require.NoError(t, err)

	captured, err := os.ReadFile(serverCfgPath(t, store, "alpha"))
	require.NoError(t, err)

	_, err = o.Backup(ctx, "alpha", "checkpoint")
	require.NoError(t, err)

	_, err = o.SetConfig(ctx, "alpha", "hostname", "After")
	require.NoError(t, err)

	require.NoError(t, o.Restore(ctx, "alpha", "checkpoint", false))

	restored, err := os.ReadFile(serverCfgPath(t, store, "alpha"))
	require.NoError(t, err)
	assert.Equal(t, captured, restored)

	cfg, err := o.GetConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "Before", cfg.Overlay["hostname"])
}

func TestRestore_RunningNeedsForce(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.Backup(ctx, "alpha", "checkpoint")
	require.NoError(t, err)
	_, err = o.Start(ctx, "alpha")
	require.NoError(t, err)

	assert.ErrorIs(t, o.Restore(ctx, "alpha", "checkpoint", false), ErrInstanceRunning)
	assert.NoError(t, o.Restore(ctx, "alpha", "checkpoint", true))
}

func TestBackup_DuplicateLabel(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	_, err := o.Backup(ctx, "alpha", "keep")
	require.NoError(t, err)
	_, err = o.Backup(ctx, "alpha", "keep")
	assert.ErrorIs(t, err, statedb.ErrDuplicateLabel)
}

func TestPluginInstall_RequiresInstalledInstance(t *testing.T) {
	o, gw, _, _ := newTestOrch(t)
	ctx := context.Background()
	gw.installErr = errors.New("interrupted")
	require.Error(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	_, err := o.PluginInstall(ctx, "alpha", "sourcemod")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestInstallMap_CopiesLocalFile(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))

	src := filepath.Join(t.TempDir(), "de_custom.bsp")
	require.NoError(t, os.WriteFile(src, []byte("bsp bytes"), 0o640))

	dest, err := o.InstallMap(ctx, "alpha", src)
	require.NoError(t, err)
	assert.Equal(t, "de_custom.bsp", filepath.Base(dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "bsp bytes", string(data))
}

func TestDiffBackup_ShowsChanges(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	ctx := context.Background()
	require.NoError(t, o.Install(ctx, "alpha", "", steam.Credentials{}))
	_, err := o.Backup(ctx, "alpha", "before")
	require.NoError(t, err)
	_, err = o.SetConfig(ctx, "alpha", "maxplayers", "32")
	require.NoError(t, err)

	diff, err := o.DiffBackup(ctx, "alpha", "before")
	require.NoError(t, err)
	assert.Contains(t, diff, "32")
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"http://x", true},
		{"https://maps.example.com/de_custom.bsp", true},
		{"/srv/maps/de_custom.bsp", false},
		{"de_custom.bsp", false},
		{"ftp://maps.example.com/de_custom.bsp", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isURL(tt.source), tt.source)
	}
}
