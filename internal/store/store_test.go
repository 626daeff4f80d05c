package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/proximityhq/proximity/internal/secrets"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proximity.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHostCRUD(t *testing.T) {
	s := openTestStore(t)

	h := &Host{
		ID:          uuid.NewString(),
		Name:        "pve1",
		Endpoint:    "https://pve1.local:8006",
		TokenID:     "root@pam!proximity",
		TokenSecret: "enc:age-scrypt:deadbeef",
		VerifyTLS:   true,
		IsDefault:   true,
		Nodes:       []string{"pve1"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.CreateHost(h); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetHost(h.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "pve1" || !got.IsDefault || len(got.Nodes) != 1 {
		t.Fatalf("unexpected host: %+v", got)
	}

	def, err := s.GetDefaultHost()
	if err != nil || def.ID != h.ID {
		t.Fatalf("expected default host %s, got %+v err=%v", h.ID, def, err)
	}

	h.Name = "pve1-renamed"
	if err := s.UpdateHost(h); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetHost(h.ID)
	if got.Name != "pve1-renamed" {
		t.Fatalf("update did not persist: %+v", got)
	}

	if err := s.DeleteHost(h.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetHost(h.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAppCRUDAndConflicts(t *testing.T) {
	s := openTestStore(t)

	a := &App{
		ID:        uuid.NewString(),
		CatalogID: "nextcloud",
		Name:      "Nextcloud",
		Hostname:  "nextcloud",
		HostID:    "host-1",
		VMID:      200,
		IP:        "10.10.10.50",
		Status:    StatusDeploying,
		Resources: Resources{Cores: 2, MemoryMB: 2048, DiskGB: 10},
		Env:       map[string]string{"FOO": "bar"},
		Ports:     []Port{{Container: 80, Host: 8080, Protocol: "tcp"}},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.CreateApp(a); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := *a
	dup.ID = uuid.NewString()
	if err := s.CreateApp(&dup); err == nil {
		t.Fatal("expected conflict creating app with duplicate hostname on same host")
	}

	ok, err := s.CompareAndSwapStatus(a.ID, StatusDeploying, StatusRunning, "")
	if err != nil || !ok {
		t.Fatalf("expected CAS to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSwapStatus(a.ID, StatusDeploying, StatusError, "stale")
	if err != nil || ok {
		t.Fatalf("expected CAS from stale status to fail, ok=%v err=%v", ok, err)
	}

	got, err := s.GetApp(a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRunning || got.Env["FOO"] != "bar" || len(got.Ports) != 1 {
		t.Fatalf("unexpected app after CAS: %+v", got)
	}

	list, err := s.ListAppsByStatus("host-1", StatusRunning)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 running app, got %d err=%v", len(list), err)
	}

	if err := s.DeleteApp(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetApp(a.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeploymentLogAppendOrdered(t *testing.T) {
	s := openTestStore(t)
	appID := uuid.NewString()

	for _, msg := range []string{"validating", "allocating", "creating"} {
		if err := s.AppendDeploymentLog(&DeploymentLogEntry{AppID: appID, Step: msg, Level: "info", Message: msg}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.ListDeploymentLog(appID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].Step != "validating" || entries[2].Step != "creating" {
		t.Fatalf("unexpected log order: %+v", entries)
	}
}

func TestBackupRetentionListing(t *testing.T) {
	s := openTestStore(t)
	appID := uuid.NewString()

	for i := 0; i < 3; i++ {
		b := &Backup{ID: uuid.NewString(), AppID: appID, Status: BackupReady, CreatedAt: time.Now().Add(time.Duration(i) * time.Minute)}
		if err := s.CreateBackup(b); err != nil {
			t.Fatalf("create backup: %v", err)
		}
	}
	failing := &Backup{ID: uuid.NewString(), AppID: appID, Status: BackupFailed, CreatedAt: time.Now()}
	if err := s.CreateBackup(failing); err != nil {
		t.Fatalf("create failing backup: %v", err)
	}

	ready, err := s.ListReadyBackups(appID)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready backups, got %d", len(ready))
	}
}

func TestReservationLifecycle(t *testing.T) {
	s := openTestStore(t)

	r := &Reservation{HostID: "host-1", Hostname: "gitea", IP: "10.10.10.60", Token: uuid.NewString(), CreatedAt: time.Now()}
	if err := s.CreateReservation(r); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err := s.HostnameExists("host-1", "gitea")
	if err != nil || !exists {
		t.Fatalf("expected hostname to exist, exists=%v err=%v", exists, err)
	}

	dup := &Reservation{HostID: "host-1", Hostname: "other", IP: "10.10.10.60", Token: uuid.NewString(), CreatedAt: time.Now()}
	if err := s.CreateReservation(dup); err == nil {
		t.Fatal("expected conflict reserving a duplicate IP on the same host")
	}

	if err := s.BindReservation(r.Token, "app-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	bound, err := s.GetReservationByToken(r.Token)
	if err != nil || bound.AppID != "app-1" {
		t.Fatalf("expected bound reservation, got %+v err=%v", bound, err)
	}

	if err := s.ReleaseReservation("host-1", "gitea"); err != nil {
		t.Fatalf("release: %v", err)
	}
	exists, _ = s.HostnameExists("host-1", "gitea")
	if exists {
		t.Fatal("expected hostname freed after release")
	}
}

func TestSettingsEncryptedRoundtrip(t *testing.T) {
	s := openTestStore(t)
	cipher := secrets.New("test-process-secret")

	if err := s.SetSetting("proxmox_password", "hunter2", "core", cipher); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.GetSetting("proxmox_password", cipher)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "hunter2" {
		t.Fatalf("expected decrypted value hunter2, got %q", got.Value)
	}
	if !got.Encrypted {
		t.Fatal("expected Encrypted flag set")
	}

	raw, err := s.GetSetting("proxmox_password", nil)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if !secrets.IsEncrypted(raw.Value) {
		t.Fatalf("expected stored value to carry encrypted prefix, got %q", raw.Value)
	}
}

func TestApplianceUpsertAndHealth(t *testing.T) {
	s := openTestStore(t)

	app := &Appliance{HostID: "host-1", VMID: 100, LANIP: "10.10.10.1", Subnet: "10.10.10.0/24"}
	if err := s.UpsertAppliance(app); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.UpdateApplianceHealth("host-1", ServiceOk, ServiceOk, ServiceDegraded, ServiceOk); err != nil {
		t.Fatalf("update health: %v", err)
	}

	got, err := s.GetAppliance("host-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProxyState != ServiceDegraded || got.VMID != 100 {
		t.Fatalf("unexpected appliance: %+v", got)
	}
}
