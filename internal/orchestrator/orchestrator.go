// Package orchestrator composes the registry, instance layout, process
// controller, provisioning gateway, compiler and the backup/plugin managers
// into the lifecycle operations the CLI exposes. It is the only layer that
// enforces cross-component invariants: an instance must be registered before
// any scoped operation, one mutating operation per instance at a time, and a
// failed instance accepts nothing but install or update.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cs2ctl/internal/backup"
	"cs2ctl/internal/cfgfile"
	"cs2ctl/internal/config"
	"cs2ctl/internal/instance"
	"cs2ctl/internal/lock"
	"cs2ctl/internal/log"
	"cs2ctl/internal/plugin"
	"cs2ctl/internal/process"
	"cs2ctl/internal/registry"
	"cs2ctl/internal/statedb"
	"cs2ctl/internal/steam"
)

// Sentinel errors for invariant violations.
var (
	// ErrInstanceFailed rejects operations on a failed instance. Only
	// install and update may transition out of failed.
	ErrInstanceFailed = errors.New("instance is in failed state; run install or update to recover")
	// ErrNotInstalled rejects operations that need game files on disk.
	ErrNotInstalled = errors.New("instance is not installed")
	// ErrAlreadyInstalled rejects installing over a completed install.
	ErrAlreadyInstalled = errors.New("instance already installed")
	// ErrInstanceRunning rejects operations that need the server stopped.
	ErrInstanceRunning = errors.New("instance is running")
)

// Gateway fetches and updates game files. Satisfied by *steam.Gateway.
type Gateway interface {
	Install(ctx context.Context, installDir string, creds steam.Credentials) error
	Update(ctx context.Context, installDir string) error
}

// Controller manages the server process. Satisfied by *process.Controller.
type Controller interface {
	Start(ctx context.Context, spec process.StartSpec) (process.Handle, error)
	Stop(ctx context.Context, pidFile string) error
	Poll(pidFile string) (process.PollStatus, process.Handle)
}

// Report is the reconciled status of one instance.
type Report struct {
	Entry     registry.Entry
	Alive     bool
	PID       int
	StartedAt time.Time
}

// Orchestrator runs the lifecycle operations.
type Orchestrator struct {
	cfg     config.Config
	store   *registry.Store
	gateway Gateway
	proc    Controller
	backups *backup.Manager
	plugins *plugin.Manager
	tracer  trace.Tracer
	client  *http.Client
}

// New wires an orchestrator from its collaborators.
func New(cfg config.Config, store *registry.Store, db *statedb.Store, gw Gateway, proc Controller, tracer trace.Tracer) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		gateway: gw,
		proc:    proc,
		backups: backup.NewManager(db),
		plugins: plugin.NewManager(db),
		tracer:  tracer,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// span opens a traced operation carrying a fresh operation id.
func (o *Orchestrator) span(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.String("operation.id", uuid.NewString()),
		attribute.String("instance.name", name),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// entry loads the registry and resolves name.
func (o *Orchestrator) entry(ctx context.Context, name string) (registry.Entry, error) {
	reg, err := o.store.Load(ctx)
	if err != nil {
		return registry.Entry{}, err
	}
	e, err := reg.Entry(name)
	if err != nil {
		return registry.Entry{}, err
	}
	return *e, nil
}

// lockInstance serializes mutating operations on one instance. The lock is
// held for the operation's whole duration and released on every exit path.
func (o *Orchestrator) lockInstance(ctx context.Context, lay instance.Layout) (*lock.Lock, error) {
	return lock.Acquire(ctx, lay.LockPath(), o.cfg.Locking.Wait)
}

func rejectFailed(e registry.Entry) error {
	if e.State == registry.StateFailed {
		return fmt.Errorf("%w: %q", ErrInstanceFailed, e.Name)
	}
	return nil
}

func (o *Orchestrator) setState(ctx context.Context, name string, state registry.InstanceState) error {
	return o.store.Update(ctx, func(r *registry.Registry) error {
		return r.SetState(name, state)
	})
}

// Install registers the instance if needed, creates its directory skeleton
// and fetches the game files. Re-running install on an uninstalled or failed
// entry resumes it; installing over a completed install is rejected.
func (o *Orchestrator) Install(ctx context.Context, name, dir string, creds steam.Credentials) (err error) {
	ctx, sp := o.span(ctx, "install", name)
	defer func() { finish(sp, err) }()

	root := dir
	if root == "" {
		root = filepath.Join(o.cfg.ServersDir, name)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving install dir: %w", err)
	}

	err = o.store.Update(ctx, func(r *registry.Registry) error {
		e, lookupErr := r.Entry(name)
		if errors.Is(lookupErr, registry.ErrUnknownInstance) {
			return r.Add(&registry.Entry{
				Name:      name,
				RootPath:  root,
				CreatedAt: time.Now().UTC(),
				State:     registry.StateUninstalled,
				Config:    registry.NewConfig(),
			})
		}
		if lookupErr != nil {
			return lookupErr
		}
		if e.State != registry.StateUninstalled && e.State != registry.StateFailed {
			return fmt.Errorf("%w: %q", ErrAlreadyInstalled, name)
		}
		// Resume against the registered root, not a newly requested one.
		root = e.RootPath
		return nil
	})
	if err != nil {
		return err
	}

	lay := instance.NewLayout(root)
	if err = lay.Create(); err != nil {
		return err
	}
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return err
	}
	defer l.Release()

	if err = o.gateway.Install(ctx, lay.GamePath(), creds); err != nil {
		// Interrupted installs stay retryable; the entry keeps its state.
		return err
	}

	e, err := o.entry(ctx, name)
	if err != nil {
		return err
	}
	if err = o.compileConfig(lay, e.Config); err != nil {
		return err
	}
	if err = o.setState(ctx, name, registry.StateInstalled); err != nil {
		return err
	}
	log.Info(log.CatOrch, "instance installed", "instance", name, "root", root)
	return nil
}

// Update brings the game files up to date. The server must not be running.
// Update is also the recovery path out of failed.
func (o *Orchestrator) Update(ctx context.Context, name string) (err error) {
	ctx, sp := o.span(ctx, "update", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return err
	}
	lay := instance.NewLayout(e.RootPath)
	if status, _ := o.proc.Poll(lay.PidFilePath()); status == process.StatusAlive {
		return fmt.Errorf("%w: stop %q before updating", ErrInstanceRunning, name)
	}

	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return err
	}
	defer l.Release()

	if err = o.gateway.Update(ctx, lay.GamePath()); err != nil {
		return err
	}
	if e.State == registry.StateFailed || e.State == registry.StateUninstalled {
		if err = o.setState(ctx, name, registry.StateInstalled); err != nil {
			return err
		}
	}
	log.Info(log.CatOrch, "instance updated", "instance", name)
	return nil
}

// Start compiles the current overlay and launches the server. The readiness
// window decides the outcome: survival means running, a clean early exit
// means stopped, a crash means failed.
func (o *Orchestrator) Start(ctx context.Context, name string) (h process.Handle, err error) {
	ctx, sp := o.span(ctx, "start", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return process.Handle{}, err
	}
	if err = rejectFailed(e); err != nil {
		return process.Handle{}, err
	}
	if e.State == registry.StateUninstalled {
		return process.Handle{}, fmt.Errorf("%w: %q", ErrNotInstalled, name)
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return process.Handle{}, err
	}
	defer l.Release()

	if err = o.compileConfig(lay, e.Config); err != nil {
		return process.Handle{}, err
	}

	h, err = o.proc.Start(ctx, o.startSpec(name, e, lay))
	switch {
	case err == nil:
		if serr := o.setState(ctx, name, registry.StateRunning); serr != nil {
			return h, serr
		}
		log.Info(log.CatOrch, "instance started", "instance", name, "pid", h.PID)
		return h, nil
	case errors.Is(err, process.ErrAlreadyRunning):
		// The registry lagged behind a live process; reconcile it.
		_ = o.setState(ctx, name, registry.StateRunning)
		return process.Handle{}, err
	default:
		var early *process.EarlyExitError
		if errors.As(err, &early) {
			state := registry.StateFailed
			if early.Code == 0 {
				state = registry.StateStopped
			}
			if serr := o.setState(ctx, name, state); serr != nil {
				return process.Handle{}, serr
			}
		}
		return process.Handle{}, err
	}
}

func (o *Orchestrator) startSpec(name string, e registry.Entry, lay instance.Layout) process.StartSpec {
	args := []string{"-dedicated", "-port", strconv.Itoa(e.Config.Port)}
	if m, ok := e.Config.Overlay["map"]; ok {
		args = append(args, "+map", m)
	}
	return process.StartSpec{
		Instance: name,
		Command:  lay.ServerBinPath(),
		Args:     args,
		Dir:      lay.GamePath(),
		LogPath:  filepath.Join(lay.LogsPath(), "server.log"),
		PidFile:  lay.PidFilePath(),
	}
}

// Stop terminates the server. A process found already dead while the
// registry believed it running is recorded as failed, since its exit code
// is unknowable across invocations.
func (o *Orchestrator) Stop(ctx context.Context, name string) (err error) {
	ctx, sp := o.span(ctx, "stop", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return err
	}
	if err = rejectFailed(e); err != nil {
		return err
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return err
	}
	defer l.Release()

	err = o.proc.Stop(ctx, lay.PidFilePath())
	switch {
	case err == nil:
		if serr := o.setState(ctx, name, registry.StateStopped); serr != nil {
			return serr
		}
		log.Info(log.CatOrch, "instance stopped", "instance", name)
		return nil
	case errors.Is(err, process.ErrNotRunning):
		if e.State == registry.StateRunning {
			_ = o.setState(ctx, name, registry.StateFailed)
			return fmt.Errorf("server died outside of cs2ctl control: %w", err)
		}
		return err
	default:
		return err
	}
}

// Status reports one instance, reconciling the persisted state against a
// liveness poll. A clean registry is updated when the poll contradicts it.
func (o *Orchestrator) Status(ctx context.Context, name string) (Report, error) {
	reg, lerr := o.store.LoadLenient(ctx)
	e, err := reg.Entry(name)
	if err != nil {
		if lerr != nil {
			return Report{}, lerr
		}
		return Report{}, err
	}

	report := o.reconcile(*e)
	if lerr == nil && report.Entry.State != e.State {
		_ = o.setState(ctx, name, report.Entry.State)
	}
	return report, lerr
}

// List reports every registered instance. With a damaged registry the
// recoverable entries are returned alongside the CorruptError.
func (o *Orchestrator) List(ctx context.Context) ([]Report, error) {
	reg, lerr := o.store.LoadLenient(ctx)
	reports := make([]Report, 0, len(reg.Instances))
	for _, name := range reg.Names() {
		e, err := reg.Entry(name)
		if err != nil {
			continue
		}
		reports = append(reports, o.reconcile(*e))
	}
	return reports, lerr
}

// reconcile folds a liveness poll into the persisted entry without writing.
func (o *Orchestrator) reconcile(e registry.Entry) Report {
	lay := instance.NewLayout(e.RootPath)
	status, h := o.proc.Poll(lay.PidFilePath())
	report := Report{Entry: e}
	switch status {
	case process.StatusAlive:
		report.Alive = true
		report.PID = h.PID
		report.StartedAt = h.StartedAt
		report.Entry.State = registry.StateRunning
	case process.StatusExited:
		if e.State == registry.StateRunning {
			report.Entry.State = registry.StateFailed
		}
	case process.StatusNotRunning:
		if e.State == registry.StateRunning {
			report.Entry.State = registry.StateFailed
		}
	}
	return report
}

// SetConfig stores one overlay assignment and recompiles the config file.
// The registry lock serializes concurrent invocations, so neither write is
// lost. Key "port" targets the typed port field instead of the overlay.
func (o *Orchestrator) SetConfig(ctx context.Context, name, key, value string) (cfg registry.Config, err error) {
	ctx, sp := o.span(ctx, "config_set", name)
	defer func() { finish(sp, err) }()

	if err = cfgfile.Validate(key, value); err != nil {
		return registry.Config{}, err
	}

	e, err := o.entry(ctx, name)
	if err != nil {
		return registry.Config{}, err
	}
	if err = rejectFailed(e); err != nil {
		return registry.Config{}, err
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return registry.Config{}, err
	}
	defer l.Release()

	err = o.store.Update(ctx, func(r *registry.Registry) error {
		if key == "port" {
			port, perr := strconv.Atoi(value)
			if perr != nil {
				return fmt.Errorf("%w: port must be an integer, got %q", cfgfile.ErrInvalidValue, value)
			}
			current, gerr := r.Config(name)
			if gerr != nil {
				return gerr
			}
			current.Port = port
			if perr := r.PutConfig(name, current); perr != nil {
				return perr
			}
			cfg = current
			return nil
		}
		updated, serr := r.SetConfigKey(name, key, value)
		if serr != nil {
			return serr
		}
		cfg = updated
		return nil
	})
	if err != nil {
		return registry.Config{}, err
	}

	if lay.Installed() {
		if err = o.compileConfig(lay, cfg); err != nil {
			return registry.Config{}, err
		}
	}
	log.Info(log.CatOrch, "config updated", "instance", name, "key", key)
	return cfg, nil
}

// GetConfig returns the instance's overlay config.
func (o *Orchestrator) GetConfig(ctx context.Context, name string) (registry.Config, error) {
	reg, err := o.store.Load(ctx)
	if err != nil {
		return registry.Config{}, err
	}
	return reg.Config(name)
}

// compileConfig merges the overlay into the on-disk server config with an
// atomic replace. A missing file starts from the default directives.
func (o *Orchestrator) compileConfig(lay instance.Layout, cfg registry.Config) error {
	path := lay.ServerCfgPath()
	existing := cfgfile.DefaultDirectives()
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 -- path comes from the instance layout
		existing = string(data)
	}

	compiled, err := cfgfile.Compile(cfg.Overlay, existing)
	if err != nil {
		return err
	}
	if compiled == existing {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	temp, err := os.CreateTemp(dir, ".server.cfg.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	if _, err := temp.WriteString(compiled); err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("replacing config: %w", err)
	}
	log.Debug(log.CatCfg, "config compiled", "path", path)
	return nil
}

// Backup snapshots the compiled config and overlay under label.
func (o *Orchestrator) Backup(ctx context.Context, name, label string) (b statedb.Backup, err error) {
	ctx, sp := o.span(ctx, "backup", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return statedb.Backup{}, err
	}
	if err = rejectFailed(e); err != nil {
		return statedb.Backup{}, err
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return statedb.Backup{}, err
	}
	defer l.Release()

	return o.backups.Create(ctx, name, lay, label, e.Config)
}

// Backups lists the instance's snapshots in creation order.
func (o *Orchestrator) Backups(ctx context.Context, name string) ([]statedb.Backup, error) {
	if _, err := o.entry(ctx, name); err != nil {
		return nil, err
	}
	return o.backups.List(ctx, name)
}

// Restore rolls the compiled config file and the overlay back to the
// snapshot under label. Restoring into a running instance requires force;
// the running server keeps its old config until restarted either way.
func (o *Orchestrator) Restore(ctx context.Context, name, label string, force bool) (err error) {
	ctx, sp := o.span(ctx, "restore", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return err
	}
	if err = rejectFailed(e); err != nil {
		return err
	}

	lay := instance.NewLayout(e.RootPath)
	if status, _ := o.proc.Poll(lay.PidFilePath()); status == process.StatusAlive && !force {
		return fmt.Errorf("%w: pass --force to restore %q anyway", ErrInstanceRunning, name)
	}

	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return err
	}
	defer l.Release()

	snap, err := o.backups.Restore(ctx, name, label)
	if err != nil {
		return err
	}
	if err = o.writeConfigBytes(lay, snap.ConfigText); err != nil {
		return err
	}
	err = o.store.Update(ctx, func(r *registry.Registry) error {
		return r.PutConfig(name, snap.Overlay)
	})
	if err != nil {
		return err
	}
	log.Info(log.CatOrch, "backup restored", "instance", name, "label", label)
	return nil
}

func (o *Orchestrator) writeConfigBytes(lay instance.Layout, data []byte) error {
	path := lay.ServerCfgPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	temp, err := os.CreateTemp(filepath.Dir(path), ".server.cfg.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// DiffBackup renders the changes between a snapshot and the live config.
func (o *Orchestrator) DiffBackup(ctx context.Context, name, label string) (string, error) {
	e, err := o.entry(ctx, name)
	if err != nil {
		return "", err
	}
	return o.backups.Diff(ctx, name, instance.NewLayout(e.RootPath), label)
}

// PluginRecommended returns the static plugin catalog.
func (o *Orchestrator) PluginRecommended() []plugin.Plugin {
	return plugin.Recommended()
}

// PluginInstall downloads a plugin artifact into the instance's game tree
// and records it.
func (o *Orchestrator) PluginInstall(ctx context.Context, name, pluginID string) (rec statedb.PluginRecord, err error) {
	ctx, sp := o.span(ctx, "plugin_install", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return statedb.PluginRecord{}, err
	}
	if err = rejectFailed(e); err != nil {
		return statedb.PluginRecord{}, err
	}
	if e.State == registry.StateUninstalled {
		return statedb.PluginRecord{}, fmt.Errorf("%w: %q", ErrNotInstalled, name)
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return statedb.PluginRecord{}, err
	}
	defer l.Release()

	return o.plugins.Install(ctx, name, lay, pluginID)
}

// PluginList returns the instance's plugin records.
func (o *Orchestrator) PluginList(ctx context.Context, name string) ([]statedb.PluginRecord, error) {
	if _, err := o.entry(ctx, name); err != nil {
		return nil, err
	}
	return o.plugins.List(ctx, name)
}

// PluginRemove deletes a plugin's artifact and record.
func (o *Orchestrator) PluginRemove(ctx context.Context, name, pluginID string) (err error) {
	ctx, sp := o.span(ctx, "plugin_remove", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return err
	}
	if err = rejectFailed(e); err != nil {
		return err
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return err
	}
	defer l.Release()

	return o.plugins.Remove(ctx, name, pluginID)
}

// InstallMap places a .bsp under the instance's maps directory, from a URL
// or a local path. Maps are content, not tracked artifacts, so nothing is
// recorded in the state database.
func (o *Orchestrator) InstallMap(ctx context.Context, name, source string) (dest string, err error) {
	ctx, sp := o.span(ctx, "install_map", name)
	defer func() { finish(sp, err) }()

	e, err := o.entry(ctx, name)
	if err != nil {
		return "", err
	}
	if err = rejectFailed(e); err != nil {
		return "", err
	}
	if e.State == registry.StateUninstalled {
		return "", fmt.Errorf("%w: %q", ErrNotInstalled, name)
	}

	lay := instance.NewLayout(e.RootPath)
	l, err := o.lockInstance(ctx, lay)
	if err != nil {
		return "", err
	}
	defer l.Release()

	if err = os.MkdirAll(lay.MapsPath(), 0o750); err != nil {
		return "", fmt.Errorf("creating maps dir: %w", err)
	}
	dest = filepath.Join(lay.MapsPath(), filepath.Base(source))

	if isURL(source) {
		err = o.fetchFile(ctx, source, dest)
	} else {
		err = copyFile(source, dest)
	}
	if err != nil {
		return "", err
	}
	log.Info(log.CatOrch, "map installed", "instance", name, "map", filepath.Base(dest))
	return dest, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (o *Orchestrator) fetchFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building map request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading map: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading map: unexpected status %s", resp.Status)
	}
	return writeStream(resp.Body, dest)
}

func copyFile(src, dest string) error {
	f, err := os.Open(src) // #nosec G304 -- operator-supplied map path
	if err != nil {
		return fmt.Errorf("opening map: %w", err)
	}
	defer f.Close()
	return writeStream(f, dest)
}

func writeStream(r io.Reader, dest string) error {
	temp, err := os.CreateTemp(filepath.Dir(dest), ".map-*")
	if err != nil {
		return fmt.Errorf("creating temp map: %w", err)
	}
	if _, err := io.Copy(temp, r); err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("writing map: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("closing map: %w", err)
	}
	if err := os.Rename(temp.Name(), dest); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("placing map: %w", err)
	}
	return nil
}
