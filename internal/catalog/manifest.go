package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// CatalogApp is an immutable app definition loaded from disk — a Docker
// Compose bundle plus the metadata the Deployment Pipeline needs to
// provision it: declared ports, volumes, environment defaults, and the
// minimum resources the App's LXC must be sized to.
type CatalogApp struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Icon        string            `json:"icon,omitempty"`
	Category    string            `json:"category"`
	Compose     json.RawMessage   `json:"docker_compose"`
	Ports       []int             `json:"ports"`
	Volumes     []CatalogVolume   `json:"volumes,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	MinMemoryMB int               `json:"min_memory"`
	MinCores    int               `json:"min_cpu"`
	Tags        []string          `json:"tags,omitempty"`
	Author      string            `json:"author,omitempty"`
	Website     string            `json:"website,omitempty"`
}

// CatalogVolume declares a persistent mount the compose bundle expects.
type CatalogVolume struct {
	Name      string `json:"name"`
	MountPath string `json:"mount_path"`
	SizeGB    int    `json:"size_gb,omitempty"`
	ReadOnly  bool   `json:"read_only,omitempty"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// loadOne reads and validates a single catalog JSON file.
func loadOne(path string) (*CatalogApp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}

	var app CatalogApp
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if err := app.Validate(); err != nil {
		return nil, err
	}
	return &app, nil
}

// Validate checks a CatalogApp against the fixed schema: required fields
// present, id is a slug, resource minimums are sane, and the compose
// bundle is at least well-formed JSON/YAML-as-JSON.
func (a *CatalogApp) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !slugPattern.MatchString(a.ID) {
		return fmt.Errorf("id %q must be a lowercase kebab-case slug", a.ID)
	}
	if a.Name == "" {
		return fmt.Errorf("app %s: name is required", a.ID)
	}
	if a.Version == "" {
		return fmt.Errorf("app %s: version is required", a.ID)
	}
	if a.Category == "" {
		return fmt.Errorf("app %s: category is required", a.ID)
	}
	if len(a.Compose) == 0 {
		return fmt.Errorf("app %s: docker_compose is required", a.ID)
	}
	var probe interface{}
	if err := json.Unmarshal(a.Compose, &probe); err != nil {
		return fmt.Errorf("app %s: docker_compose must be valid JSON: %w", a.ID, err)
	}
	if a.MinMemoryMB < 0 {
		return fmt.Errorf("app %s: min_memory must be >= 0", a.ID)
	}
	if a.MinCores < 0 {
		return fmt.Errorf("app %s: min_cpu must be >= 0", a.ID)
	}
	for _, v := range a.Volumes {
		if v.Name == "" {
			return fmt.Errorf("app %s: volume name is required", a.ID)
		}
		if !strings.HasPrefix(v.MountPath, "/") {
			return fmt.Errorf("app %s: volume %s mount_path must be an absolute path", a.ID, v.Name)
		}
	}
	return nil
}
