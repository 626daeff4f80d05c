package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func validAppJSON() string {
	return `{
		"id": "test-app",
		"name": "Test App",
		"version": "1.0.0",
		"description": "A test application for unit tests",
		"category": "testing",
		"docker_compose": {"services": {"app": {"image": "test-app:latest"}}},
		"ports": [8080],
		"volumes": [
			{"name": "data", "mount_path": "/data", "size_gb": 5}
		],
		"environment": {"DOMAIN": "example.test"},
		"min_memory": 512,
		"min_cpu": 1,
		"tags": ["test", "example"],
		"author": "tester",
		"website": "https://example.test"
	}`
}

func writeAppJSON(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOneValid(t *testing.T) {
	dir := t.TempDir()
	path := writeAppJSON(t, dir, "test-app.json", validAppJSON())

	app, err := loadOne(path)
	if err != nil {
		t.Fatalf("loadOne failed: %v", err)
	}
	if app.ID != "test-app" {
		t.Errorf("id: got %q, want %q", app.ID, "test-app")
	}
	if app.Name != "Test App" {
		t.Errorf("name: got %q, want %q", app.Name, "Test App")
	}
	if app.MinCores != 1 || app.MinMemoryMB != 512 {
		t.Errorf("resources: got cores=%d memory=%d", app.MinCores, app.MinMemoryMB)
	}
	if len(app.Volumes) != 1 || app.Volumes[0].MountPath != "/data" {
		t.Errorf("volumes: got %+v", app.Volumes)
	}
	if len(app.Ports) != 1 || app.Ports[0] != 8080 {
		t.Errorf("ports: got %v", app.Ports)
	}
}

func TestValidateMissingID(t *testing.T) {
	a := &CatalogApp{Name: "X", Version: "1.0.0", Category: "test", Compose: []byte(`{}`)}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestValidateNonSlugID(t *testing.T) {
	a := &CatalogApp{ID: "TestApp", Name: "X", Version: "1.0.0", Category: "test", Compose: []byte(`{}`)}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for non-kebab-case id")
	}
}

func TestValidateMissingName(t *testing.T) {
	a := &CatalogApp{ID: "test-app", Version: "1.0.0", Category: "test", Compose: []byte(`{}`)}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestValidateMissingVersion(t *testing.T) {
	a := &CatalogApp{ID: "test-app", Name: "X", Category: "test", Compose: []byte(`{}`)}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestValidateMissingCategory(t *testing.T) {
	a := &CatalogApp{ID: "test-app", Name: "X", Version: "1.0.0", Compose: []byte(`{}`)}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing category")
	}
}

func TestValidateMissingCompose(t *testing.T) {
	a := &CatalogApp{ID: "test-app", Name: "X", Version: "1.0.0", Category: "test"}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing docker_compose")
	}
}

func TestValidateInvalidComposeJSON(t *testing.T) {
	a := &CatalogApp{
		ID: "test-app", Name: "X", Version: "1.0.0", Category: "test",
		Compose: []byte(`not json`),
	}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for invalid docker_compose JSON")
	}
}

func TestValidateNegativeResources(t *testing.T) {
	a := &CatalogApp{
		ID: "test-app", Name: "X", Version: "1.0.0", Category: "test",
		Compose: []byte(`{}`), MinMemoryMB: -1,
	}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for negative min_memory")
	}
}

func TestValidateVolumeMissingName(t *testing.T) {
	a := &CatalogApp{
		ID: "test-app", Name: "X", Version: "1.0.0", Category: "test",
		Compose: []byte(`{}`),
		Volumes: []CatalogVolume{{MountPath: "/data"}},
	}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for volume missing name")
	}
}

func TestValidateVolumeRelativeMountPath(t *testing.T) {
	a := &CatalogApp{
		ID: "test-app", Name: "X", Version: "1.0.0", Category: "test",
		Compose: []byte(`{}`),
		Volumes: []CatalogVolume{{Name: "data", MountPath: "data"}},
	}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for relative volume mount_path")
	}
}

func TestValidateAcceptsWellFormedApp(t *testing.T) {
	a := &CatalogApp{
		ID: "test-app", Name: "X", Version: "1.0.0", Category: "test",
		Compose: []byte(`{"services":{}}`),
		Volumes: []CatalogVolume{{Name: "data", MountPath: "/data"}},
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("expected valid app, got error: %v", err)
	}
}

func TestLoadOneRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeAppJSON(t, dir, "broken.json", `{"id": "bad id with spaces"}`)

	if _, err := loadOne(path); err == nil {
		t.Fatal("expected error for invalid id")
	}
}

func TestLoadOneRejectsUnreadableFile(t *testing.T) {
	if _, err := loadOne(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
