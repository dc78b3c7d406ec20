// Package resources holds the toolset and MCP server instances users
// have configured. The gateway only reads them to authorize app access;
// executing them happens elsewhere.
package resources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce batches bursts of writes into one reload.
const reloadDebounce = 250 * time.Millisecond

// Registry looks up resource instances.
type Registry interface {
	ListOwned(ownerUserID string) []models.ResourceInstance
	Get(id string) (models.ResourceInstance, bool)
}

type fileFormat struct {
	Resources []models.ResourceInstance `yaml:"resources"`
}

// FileRegistry is a Registry loaded from a YAML file.
type FileRegistry struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	byID map[string]models.ResourceInstance
}

// NewFileRegistry loads path. An empty path yields an empty registry,
// as does a path that does not exist yet.
func NewFileRegistry(path string, logger *slog.Logger) (*FileRegistry, error) {
	r := &FileRegistry{
		path:   path,
		logger: logger,
		byID:   map[string]models.ResourceInstance{},
	}

	if path == "" {
		return r, nil
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the file. On error the previous contents stay.
func (r *FileRegistry) Reload() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.replace(nil)
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading resources file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing resources file: %w", err)
	}

	for i, res := range f.Resources {
		if res.ID == "" || res.OwnerUserID == "" {
			return fmt.Errorf("resource %d: id and owner are required", i)
		}

		if res.Type != models.ResourceToolset && res.Type != models.ResourceMCP {
			return fmt.Errorf("resource %q: unknown type %q", res.ID, res.Type)
		}
	}

	r.replace(f.Resources)

	return nil
}

func (r *FileRegistry) replace(list []models.ResourceInstance) {
	byID := make(map[string]models.ResourceInstance, len(list))
	for _, res := range list {
		byID[res.ID] = res
	}

	r.mu.Lock()
	r.byID = byID
	r.mu.Unlock()
}

// ListOwned returns the instances owned by ownerUserID, ordered by ID.
func (r *FileRegistry) ListOwned(ownerUserID string) []models.ResourceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ResourceInstance

	for _, res := range r.byID {
		if res.OwnerUserID == ownerUserID {
			out = append(out, res)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Get returns the instance with the given ID.
func (r *FileRegistry) Get(id string) (models.ResourceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.byID[id]

	return res, ok
}

// Watch reloads the registry whenever the file changes. It blocks until
// ctx is cancelled. The parent directory is watched so that editors
// which replace the file by rename are picked up.
func (r *FileRegistry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	r.logger.Info("resources: watching file", slog.String("path", r.path))

	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			r.logger.Warn("resources: watcher error", slog.String("error", err.Error()))

		case <-pending:
			pending = nil

			if err := r.Reload(); err != nil {
				r.logger.Warn("resources: reload failed, keeping previous contents", slog.String("error", err.Error()))
				continue
			}

			r.logger.Info("resources: reloaded", slog.String("path", r.path))
		}
	}
}
