package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/proximityhq/proximity/internal/catalog"
	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "proximity.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestCatalog(t *testing.T, apps ...string) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	for _, id := range apps {
		content := `{
			"id": "` + id + `",
			"name": "` + id + `",
			"version": "1.0.0",
			"description": "test",
			"category": "utility",
			"docker_compose": {"services": {"app": {"image": "` + id + `:latest"}}},
			"ports": [80],
			"min_memory": 256,
			"min_cpu": 1
		}`
		if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cat := catalog.New(dir)
	if err := cat.Load(); err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	return cat
}

func testConfig() *config.Config {
	return config.Default()
}

func TestDeployRejectsUnknownCatalogApp(t *testing.T) {
	p := New(openTestStore(t), openTestCatalog(t), nil, nil, nil, nil, testConfig())

	_, err := p.Deploy(context.Background(), DeployRequest{CatalogID: "nonexistent", Hostname: "demo1"})
	if err == nil {
		t.Fatal("expected error for unknown catalog app")
	}
}

func TestDeployRejectsInvalidHostname(t *testing.T) {
	p := New(openTestStore(t), openTestCatalog(t, "adminer"), nil, nil, nil, nil, testConfig())

	_, err := p.Deploy(context.Background(), DeployRequest{CatalogID: "adminer", Hostname: "Not_Valid"})
	if err == nil {
		t.Fatal("expected error for invalid hostname")
	}
}

func TestDeployRejectsUnknownHost(t *testing.T) {
	p := New(openTestStore(t), openTestCatalog(t, "adminer"), nil, nil, nil, nil, testConfig())

	_, err := p.Deploy(context.Background(), DeployRequest{
		CatalogID: "adminer", Hostname: "demo1", HostID: uuid.NewString(),
	})
	if err == nil {
		t.Fatal("expected error for unknown host")
	}
}

func TestCancelUnknownAppReturnsFalse(t *testing.T) {
	p := New(openTestStore(t), openTestCatalog(t), nil, nil, nil, nil, testConfig())
	if p.Cancel("no-such-app") {
		t.Fatal("expected Cancel to report false for an app with no in-flight pipeline")
	}
}

func TestMergeEnvOverridesBase(t *testing.T) {
	base := map[string]string{"A": "1", "B": "2"}
	overrides := map[string]string{"B": "override", "C": "3"}

	merged := mergeEnv(base, overrides)
	if merged["A"] != "1" || merged["B"] != "override" || merged["C"] != "3" {
		t.Errorf("mergeEnv = %+v", merged)
	}
	// base must not be mutated
	if base["B"] != "2" {
		t.Errorf("mergeEnv mutated base map: %+v", base)
	}
}

func TestFirstPositive(t *testing.T) {
	if got := firstPositive(0, 0, 5, 9); got != 5 {
		t.Errorf("firstPositive = %d, want 5", got)
	}
	if got := firstPositive(0, 0); got != 0 {
		t.Errorf("firstPositive = %d, want 0", got)
	}
}

func TestRenderEnvFileSortedAndEscaped(t *testing.T) {
	env := map[string]string{
		"ZEBRA": "plain",
		"ALPHA": "has space",
	}
	out := renderEnvFile(env)
	wantOrder := "ALPHA=\"has space\"\nZEBRA=plain\n"
	if out != wantOrder {
		t.Errorf("renderEnvFile = %q, want %q", out, wantOrder)
	}
}

func TestEscapeEnvValueQuotesWhitespace(t *testing.T) {
	if got := escapeEnvValue("plain"); got != "plain" {
		t.Errorf("escapeEnvValue(plain) = %q", got)
	}
	if got := escapeEnvValue(`has "quotes"`); got != `"has \"quotes\""` {
		t.Errorf("escapeEnvValue = %q", got)
	}
}

func TestDeriveGateway(t *testing.T) {
	if got := deriveGateway("192.168.10.42"); got != "192.168.10.1" {
		t.Errorf("deriveGateway = %q, want 192.168.10.1", got)
	}
}
