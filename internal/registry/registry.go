// Package registry owns the durable registry of known server instances and
// their overlay configurations. The registry is a single YAML document under
// the per-user config dir, loaded at command start and flushed with an
// atomic replace after each mutation.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultPort is the game server port compiled into new instance configs.
const DefaultPort = 27015

// Sentinel errors for registry lookups and mutations.
var (
	// ErrUnknownInstance is returned when an instance name is not registered.
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrNameTaken is returned when registering a name that already exists.
	ErrNameTaken = errors.New("instance name already registered")
	// ErrRootTaken is returned when registering a root path already claimed
	// by another instance.
	ErrRootTaken = errors.New("instance root path already registered")
)

// CorruptError indicates the persisted registry document could not be read.
// Mutating commands treat it as fatal; read-only commands may still report
// whatever entries the lenient loader recovered.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("registry %s is corrupt: %s", e.Path, e.Reason)
}

// Entry is one registered server instance.
type Entry struct {
	Name      string        `yaml:"name"`
	RootPath  string        `yaml:"root_path"`
	CreatedAt time.Time     `yaml:"created_at"`
	State     InstanceState `yaml:"last_known_state"`
	Config    Config        `yaml:"config"`
}

// Config is the overlay configuration for one instance. Overlay keys are an
// open mapping: recognized directives are validated, unrecognized ones pass
// through to the compiled config with a warning, never dropped.
type Config struct {
	Port    int               `yaml:"port"`
	Overlay map[string]string `yaml:"overlay,omitempty"`
}

// NewConfig returns an instance config with defaults applied.
func NewConfig() Config {
	return Config{Port: DefaultPort, Overlay: map[string]string{}}
}

// Clone returns a deep copy so callers cannot alias the stored overlay map.
func (c Config) Clone() Config {
	out := Config{Port: c.Port, Overlay: make(map[string]string, len(c.Overlay))}
	for k, v := range c.Overlay {
		out.Overlay[k] = v
	}
	return out
}

// Registry is the in-memory form of the persisted document.
type Registry struct {
	Instances []*Entry `yaml:"instances"`
}

// Entry returns the entry for name, or ErrUnknownInstance.
func (r *Registry) Entry(name string) (*Entry, error) {
	for _, e := range r.Instances {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, name)
}

// Add registers a new entry. Name and root path must both be unused.
func (r *Registry) Add(e *Entry) error {
	for _, existing := range r.Instances {
		if existing.Name == e.Name {
			return fmt.Errorf("%w: %q", ErrNameTaken, e.Name)
		}
		if existing.RootPath == e.RootPath {
			return fmt.Errorf("%w: %q (held by %q)", ErrRootTaken, e.RootPath, existing.Name)
		}
	}
	if !e.State.Valid() {
		e.State = StateUninstalled
	}
	if e.Config.Port == 0 {
		e.Config = NewConfig()
	}
	r.Instances = append(r.Instances, e)
	return nil
}

// Remove deletes the entry for name.
func (r *Registry) Remove(name string) error {
	for i, e := range r.Instances {
		if e.Name == name {
			r.Instances = append(r.Instances[:i], r.Instances[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownInstance, name)
}

// SetState records a confirmed state transition for name.
func (r *Registry) SetState(name string, state InstanceState) error {
	e, err := r.Entry(name)
	if err != nil {
		return err
	}
	e.State = state
	return nil
}

// Names returns all registered instance names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Instances))
	for _, e := range r.Instances {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Config returns a copy of the overlay config for name.
func (r *Registry) Config(name string) (Config, error) {
	e, err := r.Entry(name)
	if err != nil {
		return Config{}, err
	}
	return e.Config.Clone(), nil
}

// SetConfigKey sets one overlay key for name and returns the updated config.
func (r *Registry) SetConfigKey(name, key, value string) (Config, error) {
	e, err := r.Entry(name)
	if err != nil {
		return Config{}, err
	}
	if e.Config.Overlay == nil {
		e.Config.Overlay = map[string]string{}
	}
	e.Config.Overlay[key] = value
	return e.Config.Clone(), nil
}

// PutConfig replaces the whole overlay config for name.
func (r *Registry) PutConfig(name string, cfg Config) error {
	e, err := r.Entry(name)
	if err != nil {
		return err
	}
	e.Config = cfg.Clone()
	return nil
}
