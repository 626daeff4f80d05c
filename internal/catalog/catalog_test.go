package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalogFile(t *testing.T, dir, id string, extra string) {
	t.Helper()
	content := `{
		"id": "` + id + `",
		"name": "` + id + `",
		"version": "1.0.0",
		"description": "a test app",
		"category": "utility",
		"docker_compose": {"services": {"app": {"image": "` + id + `:latest"}}},
		"ports": [80],
		"min_memory": 256,
		"min_cpu": 1` + extra + `
	}`
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
}

func TestLoadIndexesValidApps(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "adminer", "")
	writeCatalogFile(t, dir, "plex", `, "tags": ["media"]`)

	cat := New(dir)
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 2 {
		t.Fatalf("Count = %d, want 2", cat.Count())
	}

	app, ok := cat.Get("adminer")
	if !ok {
		t.Fatal("expected adminer to be loaded")
	}
	if app.MinCores != 1 || app.MinMemoryMB != 256 {
		t.Errorf("adminer resources = %+v, want cores=1 memory=256", app)
	}
}

func TestLoadSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "adminer", "")
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"id": ""}`), 0644); err != nil {
		t.Fatalf("writing broken fixture: %v", err)
	}

	cat := New(dir)
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 1 {
		t.Fatalf("Count = %d, want 1 (broken.json should be skipped)", cat.Count())
	}
}

func TestSearchMatchesTagsAndName(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "plex", `, "tags": ["media", "streaming"]`)
	writeCatalogFile(t, dir, "adminer", "")

	cat := New(dir)
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	results := cat.Search("media")
	if len(results) != 1 || results[0].ID != "plex" {
		t.Errorf("Search(media) = %+v, want just plex", results)
	}

	results = cat.Search("admin")
	if len(results) != 1 || results[0].ID != "adminer" {
		t.Errorf("Search(admin) = %+v, want just adminer", results)
	}
}

func TestCategories(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "adminer", "")

	cat := New(dir)
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cats := cat.Categories()
	if len(cats) != 1 || cats[0] != "utility" {
		t.Errorf("Categories() = %v, want [utility]", cats)
	}
}

func TestReloadReplacesIndex(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "adminer", "")

	cat := New(dir)
	if err := cat.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 1 {
		t.Fatalf("Count = %d, want 1", cat.Count())
	}

	writeCatalogFile(t, dir, "plex", "")
	if err := cat.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cat.Count() != 2 {
		t.Fatalf("Count after reload = %d, want 2", cat.Count())
	}
}
