package registry

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"cs2ctl/internal/lock"
	"cs2ctl/internal/log"
)

// Store persists the registry document. Every load/save cycle is guarded by
// a single coarse advisory lock next to the document so concurrent tool
// invocations cannot lose updates.
type Store struct {
	path     string
	lockWait time.Duration
}

// NewStore creates a store for the registry document at path.
func NewStore(path string, lockWait time.Duration) *Store {
	return &Store{path: path, lockWait: lockWait}
}

// Path returns the registry document location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// Load reads the registry document. A missing file yields an empty registry.
// An unreadable or unparseable file yields a CorruptError.
func (s *Store) Load(ctx context.Context) (*Registry, error) {
	l, err := lock.Acquire(ctx, s.lockPath(), s.lockWait)
	if err != nil {
		return nil, err
	}
	defer l.Release()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Registry, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: fixed per-user config path
	if os.IsNotExist(err) {
		return &Registry{}, nil
	}
	if err != nil {
		return nil, &CorruptError{Path: s.path, Reason: err.Error()}
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, &CorruptError{Path: s.path, Reason: err.Error()}
	}
	return &reg, nil
}

// LoadLenient reads the registry, recovering whatever entries still decode
// when the document as a whole is damaged. It returns the partial registry
// together with the CorruptError so read-only commands can report both.
func (s *Store) LoadLenient(ctx context.Context) (*Registry, error) {
	l, lerr := lock.Acquire(ctx, s.lockPath(), s.lockWait)
	if lerr != nil {
		return nil, lerr
	}
	defer l.Release()

	reg, err := s.loadLocked()
	if err == nil {
		return reg, nil
	}

	corrupt, ok := err.(*CorruptError)
	if !ok {
		return nil, err
	}

	data, rerr := os.ReadFile(s.path) //nolint:gosec // G304: fixed per-user config path
	if rerr != nil {
		return &Registry{}, corrupt
	}

	// Decode entry by entry: a single mangled entry should not take down
	// 'list' and 'status' for every other instance.
	reg = &Registry{}
	var doc struct {
		Instances []yaml.Node `yaml:"instances"`
	}
	if uerr := yaml.Unmarshal(data, &doc); uerr != nil {
		return reg, corrupt
	}
	for i := range doc.Instances {
		var e Entry
		if derr := doc.Instances[i].Decode(&e); derr != nil || e.Name == "" {
			log.Warn(log.CatRegistry, "skipping unreadable registry entry", "index", i)
			continue
		}
		reg.Instances = append(reg.Instances, &e)
	}
	return reg, corrupt
}

// Save writes the registry document with an atomic temp-file replace, so a
// crash mid-write never leaves a partially written registry behind.
func (s *Store) Save(ctx context.Context, reg *Registry) error {
	l, err := lock.Acquire(ctx, s.lockPath(), s.lockWait)
	if err != nil {
		return err
	}
	defer l.Release()
	return s.saveLocked(reg)
}

func (s *Store) saveLocked(reg *Registry) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(reg); err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	_ = encoder.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".registry.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(buf.Bytes()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	log.Debug(log.CatRegistry, "registry saved", "path", s.path, "instances", len(reg.Instances))
	return nil
}

// Update runs fn against the loaded registry and saves the result, all under
// one hold of the registry lock. fn returning an error aborts without saving.
func (s *Store) Update(ctx context.Context, fn func(*Registry) error) error {
	l, err := lock.Acquire(ctx, s.lockPath(), s.lockWait)
	if err != nil {
		return err
	}
	defer l.Release()

	reg, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	return s.saveLocked(reg)
}
