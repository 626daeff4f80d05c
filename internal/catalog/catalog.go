// Package catalog loads the read-only CatalogApp definitions the
// Deployment Pipeline deploys from. Unlike the teacher's git-fetched YAML
// manifests, entries here are plain JSON files in a data directory — no
// network fetch, no dev-app shadowing, just an in-memory index rebuilt on
// Load/Reload.
package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Catalog is the in-memory singleton of validated CatalogApp entries,
// indexed by slug.
type Catalog struct {
	mu          sync.RWMutex
	dir         string
	apps        map[string]*CatalogApp
	lastRefresh time.Time
}

// New creates a Catalog that loads JSON files from dir.
func New(dir string) *Catalog {
	return &Catalog{dir: dir, apps: make(map[string]*CatalogApp)}
}

// Load reads every *.json file in the catalog directory. Invalid files are
// skipped with a warning rather than failing the whole load — one bad
// catalog entry must not take down the rest.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading catalog dir %s: %w", c.dir, err)
	}

	loaded := make(map[string]*CatalogApp, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		app, err := loadOne(path)
		if err != nil {
			log.Printf("[catalog] skipping %s: %v", path, err)
			continue
		}
		if _, dup := loaded[app.ID]; dup {
			log.Printf("[catalog] skipping %s: duplicate id %q", path, app.ID)
			continue
		}
		loaded[app.ID] = app
	}

	c.mu.Lock()
	c.apps = loaded
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

// Reload re-reads the catalog directory, replacing the in-memory index.
func (c *Catalog) Reload() error {
	return c.Load()
}

// List returns every loaded CatalogApp.
func (c *Catalog) List() []*CatalogApp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	apps := make([]*CatalogApp, 0, len(c.apps))
	for _, app := range c.apps {
		apps = append(apps, app)
	}
	return apps
}

// Get returns a single CatalogApp by slug.
func (c *Catalog) Get(id string) (*CatalogApp, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	app, ok := c.apps[id]
	return app, ok
}

// Search matches query against name, description, tags, and category.
func (c *Catalog) Search(query string) []*CatalogApp {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if query == "" {
		apps := make([]*CatalogApp, 0, len(c.apps))
		for _, app := range c.apps {
			apps = append(apps, app)
		}
		return apps
	}

	q := strings.ToLower(query)
	var results []*CatalogApp
	for _, app := range c.apps {
		if strings.Contains(strings.ToLower(app.Name), q) ||
			strings.Contains(strings.ToLower(app.Description), q) ||
			strings.Contains(strings.ToLower(app.Category), q) {
			results = append(results, app)
			continue
		}
		for _, t := range app.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				results = append(results, app)
				break
			}
		}
	}
	return results
}

// Categories returns the deduplicated set of categories across all apps.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var cats []string
	for _, app := range c.apps {
		if app.Category == "" || seen[app.Category] {
			continue
		}
		seen[app.Category] = true
		cats = append(cats, app.Category)
	}
	return cats
}

// Count returns the number of loaded apps.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.apps)
}

// LastRefresh returns the time of the most recent successful Load/Reload.
func (c *Catalog) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}
