// Package backup drives vzdump-backed backup creation and restoration for
// managed Apps, and enforces keep-last-N retention once a backup completes.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/proximityhq/proximity/internal/appliance"
	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

const (
	createTimeout = 30 * time.Minute
	pruneTimeout  = time.Minute
)

// Engine is the Backup Engine: Create/Restore against internal/proxmox's
// vzdump wrappers, with retention pruning driven off config.BackupConfig.
type Engine struct {
	store     *store.Store
	pxm       *proxmox.Manager
	appliance *appliance.Manager
	cfg       *config.Config
}

func New(s *store.Store, pxm *proxmox.Manager, am *appliance.Manager, cfg *config.Config) *Engine {
	return &Engine{store: s, pxm: pxm, appliance: am, cfg: cfg}
}

// Create inserts a Backup row in BackupCreating and returns immediately —
// the vzdump job itself, which can legitimately take minutes for a large
// container, runs in the background.
func (e *Engine) Create(ctx context.Context, appID string) (*store.Backup, error) {
	app, err := e.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}
	if app.VMID == 0 {
		return nil, fmt.Errorf("app %s has no container to back up", appID)
	}

	existing, err := e.store.ListBackups(appID)
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	for _, b := range existing {
		if b.Status == store.BackupCreating {
			return nil, fmt.Errorf("app %s already has a backup in progress", appID)
		}
	}

	b := &store.Backup{
		ID:        uuid.NewString(),
		AppID:     appID,
		Status:    store.BackupCreating,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateBackup(b); err != nil {
		return nil, fmt.Errorf("creating backup record: %w", err)
	}

	go e.runCreate(app, b)

	return b, nil
}

func (e *Engine) runCreate(app *store.App, b *store.Backup) {
	storage := e.storage()

	ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
	defer cancel()

	volid, err := e.pxm.VzdumpCreate(ctx, proxmox.VzdumpCreateOptions{
		CTID: app.VMID, Storage: storage, Mode: "snapshot", Compression: "zstd",
	})
	if err != nil {
		b.Status = store.BackupFailed
		_ = e.store.UpdateBackup(b)
		return
	}

	b.Filename = volid
	b.Compression = "zstd"
	b.Status = store.BackupReady
	if err := e.store.UpdateBackup(b); err != nil {
		return
	}

	e.prune(app.ID, storage)
}

// prune enforces keep-last-N retention: once a backup completes, delete the
// oldest Ready archives beyond cfg.Backup.RetentionN. RetentionN<=0 means
// unlimited — no pruning.
func (e *Engine) prune(appID, storage string) {
	n := e.cfg.Backup.RetentionN
	if n <= 0 {
		return
	}

	ready, err := e.store.ListReadyBackups(appID)
	if err != nil {
		return
	}

	for _, old := range backupsToPrune(ready, n) {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		if old.Filename != "" {
			_ = e.pxm.DeleteArchive(ctx, storage, old.Filename)
		}
		cancel()
		_ = e.store.DeleteBackup(old.ID)
	}
}

// Restore restores app's container in place from backupID. Blocking —
// callers that need async semantics (the Lifecycle Controller, while the
// App sits in Restoring) run this inside their own goroutine.
func (e *Engine) Restore(ctx context.Context, appID, backupID string) error {
	app, err := e.store.GetApp(appID)
	if err != nil {
		return fmt.Errorf("loading app: %w", err)
	}
	b, err := e.store.GetBackup(backupID)
	if err != nil {
		return fmt.Errorf("loading backup: %w", err)
	}
	if b.AppID != appID {
		return fmt.Errorf("backup %s does not belong to app %s", backupID, appID)
	}
	if b.Status != store.BackupReady {
		return fmt.Errorf("backup %s is not ready (status %s)", backupID, b.Status)
	}
	if app.VMID == 0 {
		return fmt.Errorf("app %s has no container to restore onto", appID)
	}

	storage := e.storage()

	if err := e.pxm.Stop(ctx, app.VMID); err != nil {
		return fmt.Errorf("stopping container before restore: %w", err)
	}
	if err := e.pxm.VzdumpRestore(ctx, proxmox.VzdumpRestoreOptions{
		CTID: app.VMID, Archive: b.Filename, Storage: storage, Force: true,
	}); err != nil {
		return fmt.Errorf("restoring archive: %w", err)
	}
	if err := e.pxm.Start(ctx, app.VMID); err != nil {
		return fmt.Errorf("starting restored container: %w", err)
	}

	ports := make([]int, 0, len(app.Ports))
	for _, p := range app.Ports {
		ports = append(ports, p.Container)
	}
	if err := e.appliance.RegisterApp(ctx, app.HostID, app.Hostname, app.IP, ports); err != nil {
		return fmt.Errorf("re-registering restored app with appliance: %w", err)
	}
	return nil
}

// backupsToPrune returns the Ready backups beyond the retention window.
// ready must be newest-first, as returned by Store.ListReadyBackups.
func backupsToPrune(ready []*store.Backup, retentionN int) []*store.Backup {
	if retentionN <= 0 || len(ready) <= retentionN {
		return nil
	}
	return ready[retentionN:]
}

func (e *Engine) storage() string {
	if e.cfg.Defaults.Storage != "" {
		return e.cfg.Defaults.Storage
	}
	return config.DefaultStorage
}
