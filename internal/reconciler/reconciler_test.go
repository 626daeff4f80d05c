package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func TestPollHostNoAppsSucceedsWithNilManager(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil, config.Default())

	if !r.pollHost(context.Background(), "host1") {
		t.Fatal("pollHost with no apps should report success")
	}
}

func TestPollHostSkipsUnallocatedApps(t *testing.T) {
	s := openTestStore(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "demo", HostID: "host1", Status: store.StatusDeploying}
	if err := s.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	r := New(s, nil, config.Default())
	if !r.pollHost(context.Background(), "host1") {
		t.Fatal("pollHost should skip apps not in Running/Stopped/Error")
	}
}

func TestReconcileAppNoopWhenStatusMatches(t *testing.T) {
	s := openTestStore(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "demo", HostID: "host1", Status: store.StatusRunning}
	if err := s.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	r := New(s, nil, config.Default())
	r.reconcileApp(app, "running")

	got, err := s.GetApp("app1")
	if err != nil {
		t.Fatalf("GetApp: %v", err)
	}
	if got.Status != store.StatusRunning {
		t.Errorf("status = %s, want unchanged Running", got.Status)
	}
}

func TestReconcileAppCorrectsDrift(t *testing.T) {
	s := openTestStore(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "demo", HostID: "host1", Status: store.StatusRunning}
	if err := s.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	r := New(s, nil, config.Default())
	r.reconcileApp(app, "stopped")

	got, err := s.GetApp("app1")
	if err != nil {
		t.Fatalf("GetApp: %v", err)
	}
	if got.Status != store.StatusStopped {
		t.Errorf("status = %s, want Stopped after drift correction", got.Status)
	}
}

func TestMarkMissingSetsErrorReason(t *testing.T) {
	s := openTestStore(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "demo", HostID: "host1", Status: store.StatusRunning, VMID: 150}
	if err := s.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	r := New(s, nil, config.Default())
	r.markMissing(app)

	got, err := s.GetApp("app1")
	if err != nil {
		t.Fatalf("GetApp: %v", err)
	}
	if got.Status != store.StatusError || got.StatusReason != missingReason {
		t.Errorf("status = %s/%q, want Error/%q", got.Status, got.StatusReason, missingReason)
	}
}

func TestMarkMissingIdempotentWhenAlreadyMarked(t *testing.T) {
	s := openTestStore(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "demo", HostID: "host1", Status: store.StatusError, StatusReason: missingReason, VMID: 150}
	if err := s.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	r := New(s, nil, config.Default())
	r.markMissing(app) // should not attempt a CAS from Error to Error

	got, err := s.GetApp("app1")
	if err != nil {
		t.Fatalf("GetApp: %v", err)
	}
	if got.Status != store.StatusError || got.StatusReason != missingReason {
		t.Errorf("status changed unexpectedly: %s/%q", got.Status, got.StatusReason)
	}
}

func TestNextIntervalResetsOnSuccess(t *testing.T) {
	got := nextInterval(40*time.Second, 5*time.Second, 60*time.Second, true)
	if got != 5*time.Second {
		t.Errorf("nextInterval on success = %v, want base 5s", got)
	}
}

func TestNextIntervalDoublesOnFailure(t *testing.T) {
	got := nextInterval(5*time.Second, 5*time.Second, 60*time.Second, false)
	if got != 10*time.Second {
		t.Errorf("nextInterval on failure = %v, want 10s", got)
	}
}

func TestNextIntervalCapsAtMax(t *testing.T) {
	got := nextInterval(50*time.Second, 5*time.Second, 60*time.Second, false)
	if got != 60*time.Second {
		t.Errorf("nextInterval capped = %v, want 60s", got)
	}
}

func TestRunWithNoHostsReturnsImmediately(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil, config.Default())

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run with no hosts should return immediately")
	}
}
