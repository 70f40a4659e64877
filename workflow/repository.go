package workflow

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/lebenslotse/lifeplan/apierr"
)

// Repository loads compiled templates from a directory tree and caches them
// by key. Templates are immutable on disk during normal operation; Watch
// invalidates cache entries when a compiled.json changes underneath us.
type Repository struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewRepository creates a repository rooted at the workflows directory.
func NewRepository(root string, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		root:   root,
		logger: logger,
		cache:  make(map[string]*Template),
	}
}

// Root returns the workflows root directory.
func (r *Repository) Root() string {
	return r.root
}

// Load returns the validated template for templateKey. Unknown keys and
// missing compiled artefacts map to TEMPLATE_NOT_FOUND; structurally invalid
// templates map to PLANNER_INPUT_INVALID.
func (r *Repository) Load(templateKey string) (*Template, error) {
	if !keyPattern.MatchString(templateKey) {
		return nil, apierr.TemplateNotFound(templateKey)
	}

	r.mu.RLock()
	cached := r.cache[templateKey]
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	event, version, _ := strings.Cut(templateKey, "/")
	path := filepath.Join(r.root, event, version, "compiled.json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apierr.TemplateNotFound(templateKey)
	}
	if err != nil {
		return nil, apierr.PlannerInputInvalid(err.Error())
	}

	def, err := decodeTemplate(raw)
	if err != nil {
		return nil, apierr.PlannerInputInvalid(err.Error())
	}
	if err := ValidateGraph(def); err != nil {
		return nil, apierr.PlannerInputInvalid(err.Error())
	}

	tmpl := &Template{Key: templateKey, Definition: def}
	r.mu.Lock()
	r.cache[templateKey] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

// Invalidate drops the cached template for templateKey, if any.
func (r *Repository) Invalidate(templateKey string) {
	r.mu.Lock()
	delete(r.cache, templateKey)
	r.mu.Unlock()
}

// Watch invalidates cached templates when compiled.json files change under
// the workflows root. It blocks until ctx is done.
func (r *Repository) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addWatchesRecursive(fsw, r.root); err != nil {
		return err
	}
	r.logger.Info("Workflow template watcher started", "root", r.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := fsw.Add(event.Name); addErr != nil {
						r.logger.Warn("Failed to watch new directory", "path", event.Name, "error", addErr)
					}
				}
			}
			if filepath.Base(event.Name) != "compiled.json" {
				continue
			}
			key := r.keyForPath(event.Name)
			if key == "" {
				continue
			}
			r.Invalidate(key)
			r.logger.Info("Invalidated cached template", "template_key", key, "op", event.Op.String())

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Workflow template watcher error", "error", watchErr)
		}
	}
}

// keyForPath maps <root>/<event>/v<N>/compiled.json back to its template key.
func (r *Repository) keyForPath(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return ""
	}
	key := parts[0] + "/" + parts[1]
	if !keyPattern.MatchString(key) {
		return ""
	}
	return key
}

func addWatchesRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
