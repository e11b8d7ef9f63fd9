package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/me/simq/pkg/task"
)

// Registry discovers model specs from a directory of YAML descriptors,
// one ModelSpec per file. The loaded mapping is immutable; a rescan
// builds a fresh map and swaps it in under the lock.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	models map[string]map[string]*task.ModelSpec // name -> version -> spec
}

// New creates a registry for the given descriptor directory and runs
// an initial scan.
func New(dir string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		logger: logger.With("component", "registry"),
		models: map[string]map[string]*task.ModelSpec{},
	}
	if err := r.Scan(); err != nil {
		return nil, err
	}
	return r, nil
}

// Scan reloads every descriptor in the directory. A malformed
// descriptor fails the whole scan so a typo cannot silently drop a
// model from the registry.
func (r *Registry) Scan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read model dir %s: %w", r.dir, err)
	}

	fresh := map[string]map[string]*task.ModelSpec{}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		spec, err := loadSpec(path)
		if err != nil {
			return err
		}

		if fresh[spec.Name] == nil {
			fresh[spec.Name] = map[string]*task.ModelSpec{}
		}
		if _, dup := fresh[spec.Name][spec.Version]; dup {
			return fmt.Errorf("duplicate model %s version %s in %s", spec.Name, spec.Version, path)
		}
		fresh[spec.Name][spec.Version] = spec
		count++
	}

	r.mu.Lock()
	r.models = fresh
	r.mu.Unlock()

	r.logger.Debug("model scan complete", "models", len(fresh), "versions", count)
	return nil
}

func loadSpec(path string) (*task.ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	var spec task.ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	if spec.Name == "" || spec.Version == "" {
		return nil, fmt.Errorf("descriptor %s: name and version are required", path)
	}
	if spec.Executable == "" {
		return nil, fmt.Errorf("descriptor %s: executable is required", path)
	}
	return &spec, nil
}

// Get returns the spec for an exact (name, version) pair.
func (r *Registry) Get(name, version string) (*task.ModelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.models[name][version]
	return spec, ok
}

// GetLatest returns the highest version of the named model.
func (r *Registry) GetLatest(name string) (*task.ModelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.models[name]
	if len(versions) == 0 {
		return nil, false
	}
	var best string
	for v := range versions {
		if best == "" || compareVersions(v, best) > 0 {
			best = v
		}
	}
	return versions[best], true
}

// Versions returns the supported {model -> sorted versions} mapping.
// This is what workers advertise when polling the queue.
func (r *Registry) Versions() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.models))
	for name, versions := range r.models {
		vs := make([]string, 0, len(versions))
		for v := range versions {
			vs = append(vs, v)
		}
		sort.Slice(vs, func(i, j int) bool { return compareVersions(vs[i], vs[j]) < 0 })
		out[name] = vs
	}
	return out
}

// Names returns the model names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch re-scans the directory when descriptors change, with a
// periodic fallback rescan for filesystems where change notification
// is unreliable. Blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, rescanInterval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Info("model directory changed, rescanning", "file", event.Name)
			if err := r.Scan(); err != nil {
				r.logger.Error("rescan failed, keeping previous registry", "error", err)
			}
		case err := <-watcher.Errors:
			r.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			if err := r.Scan(); err != nil {
				r.logger.Error("periodic rescan failed, keeping previous registry", "error", err)
			}
		}
	}
}

// compareVersions orders version strings segment-wise, numerically
// where both segments are numbers ("10" > "9"), lexically otherwise.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}
