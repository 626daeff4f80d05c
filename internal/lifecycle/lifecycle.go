// Package lifecycle is the Lifecycle Controller: action/clone/backup/
// restore/update/resize against a managed App, serialized per-App and
// guarded by the status transition table.
package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/proximityhq/proximity/internal/appliance"
	"github.com/proximityhq/proximity/internal/ipam"
	"github.com/proximityhq/proximity/internal/pipeline"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

const (
	stopGraceSeconds  = 30
	restartSettleWait = 2 * time.Second
)

// BackupEngine is the subset of internal/backup's Engine the Lifecycle
// Controller drives — declared here to avoid an import cycle (backup has
// no need to know about lifecycle).
type BackupEngine interface {
	Create(ctx context.Context, appID string) (*store.Backup, error)
	Restore(ctx context.Context, appID, backupID string) error
}

// ConflictBusyError is returned when a mutating operation is already in
// flight for the App — the caller lost the race for its per-App lock.
type ConflictBusyError struct {
	AppID string
}

func (e *ConflictBusyError) Error() string {
	return fmt.Sprintf("app %s has an operation already in flight", e.AppID)
}

// ConflictStatusError is returned when the requested action is not legal
// from the App's current status per the status transition table.
type ConflictStatusError struct {
	AppID  string
	Status string
	Action string
}

func (e *ConflictStatusError) Error() string {
	return fmt.Sprintf("app %s: %q is not valid from status %q", e.AppID, e.Action, e.Status)
}

// Controller is the Lifecycle Controller.
type Controller struct {
	store     *store.Store
	pxm       *proxmox.Manager
	appliance *appliance.Manager
	ipam      *ipam.Registry
	pipeline  *pipeline.Pipeline
	backup    BackupEngine

	locks sync.Map // appID -> *sync.Mutex, per-App serialization
}

func New(s *store.Store, pxm *proxmox.Manager, am *appliance.Manager, reg *ipam.Registry, p *pipeline.Pipeline, be BackupEngine) *Controller {
	return &Controller{store: s, pxm: pxm, appliance: am, ipam: reg, pipeline: p, backup: be}
}

func (c *Controller) lockFor(appID string) *sync.Mutex {
	val, _ := c.locks.LoadOrStore(appID, &sync.Mutex{})
	return val.(*sync.Mutex)
}

// acquire tries to take appID's lock without blocking — a second mutating
// request arriving while one is in flight fails fast with ConflictBusy
// rather than queueing.
func (c *Controller) acquire(appID string) (func(), error) {
	mu := c.lockFor(appID)
	if !mu.TryLock() {
		return nil, &ConflictBusyError{AppID: appID}
	}
	return mu.Unlock, nil
}

// transition describes what Action does to an App's status for one
// (from-status, action) pair in the table: Noop means the action is
// already satisfied and returns success without touching Proxmox;
// Intermediate is the status the App moves into while the op runs.
type transition struct {
	Intermediate string
	Noop         bool
}

// actionTable mirrors the status transition table: a from-status with no
// entry, or an action with no entry under it, is rejected with
// ConflictStatus. Deploying/Cloning/Deleting/Restoring have no entries at
// all — every action is rejected from those statuses.
var actionTable = map[string]map[string]transition{
	store.StatusRunning: {
		"start":   {Noop: true},
		"stop":    {Intermediate: store.StatusStopping},
		"restart": {Intermediate: store.StatusRestarting},
		"delete":  {Intermediate: store.StatusDeleting},
	},
	store.StatusStopped: {
		"start":   {Intermediate: store.StatusStarting},
		"stop":    {Noop: true},
		"restart": {Intermediate: store.StatusStarting},
		"delete":  {Intermediate: store.StatusDeleting},
	},
	store.StatusError: {
		"start":   {Intermediate: store.StatusStarting},
		"stop":    {Noop: true},
		"restart": {Intermediate: store.StatusStarting},
		"delete":  {Intermediate: store.StatusDeleting},
	},
}

// Action runs one of start/stop/restart/delete against appID, synchronously
// — these are all fast Proxmox calls, unlike Clone/Backup/Restore.
func (c *Controller) Action(ctx context.Context, appID, action string) (*store.App, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := c.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}

	row, ok := actionTable[app.Status]
	if !ok {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: action}
	}
	t, ok := row[action]
	if !ok {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: action}
	}
	if t.Noop {
		return app, nil
	}

	swapped, err := c.store.CompareAndSwapStatus(appID, app.Status, t.Intermediate, "")
	if err != nil {
		return nil, fmt.Errorf("transitioning to %s: %w", t.Intermediate, err)
	}
	if !swapped {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: action}
	}

	var opErr error
	final := store.StatusRunning
	switch action {
	case "start":
		opErr = c.pxm.Start(ctx, app.VMID)
	case "stop":
		opErr = c.pxm.Shutdown(ctx, app.VMID, stopGraceSeconds)
		final = store.StatusStopped
	case "restart":
		if err := c.pxm.Shutdown(ctx, app.VMID, stopGraceSeconds); err != nil {
			if stopErr := c.pxm.Stop(ctx, app.VMID); stopErr != nil {
				opErr = fmt.Errorf("stopping before restart (graceful shutdown also failed: %v): %w", err, stopErr)
				break
			}
		}
		time.Sleep(restartSettleWait)
		opErr = c.pxm.Start(ctx, app.VMID)
	case "delete":
		opErr = c.runDelete(ctx, app, store.DeletePolicyRetain)
		if opErr == nil {
			return nil, nil
		}
	}

	if opErr != nil {
		_, _ = c.store.CompareAndSwapStatus(appID, t.Intermediate, store.StatusError, opErr.Error())
		app.Status, app.StatusReason = store.StatusError, opErr.Error()
		return app, fmt.Errorf("%s: %w", action, opErr)
	}

	if _, err := c.store.CompareAndSwapStatus(appID, t.Intermediate, final, ""); err != nil {
		return nil, fmt.Errorf("persisting %s: %w", final, err)
	}
	app.Status, app.StatusReason = final, ""
	return app, nil
}

// Delete is Action("delete") with an explicit retention policy for the
// App's backups.
func (c *Controller) Delete(ctx context.Context, appID string, policy store.DeletePolicy) (*store.App, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := c.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}
	row, ok := actionTable[app.Status]
	if !ok {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "delete"}
	}
	t, ok := row["delete"]
	if !ok {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "delete"}
	}

	swapped, err := c.store.CompareAndSwapStatus(appID, app.Status, t.Intermediate, "")
	if err != nil {
		return nil, fmt.Errorf("transitioning to %s: %w", t.Intermediate, err)
	}
	if !swapped {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "delete"}
	}

	if err := c.runDelete(ctx, app, policy); err != nil {
		_, _ = c.store.CompareAndSwapStatus(appID, t.Intermediate, store.StatusError, err.Error())
		return nil, fmt.Errorf("delete: %w", err)
	}
	return nil, nil
}

// runDelete tears an App down to nothing: deregister, stop+destroy the
// LXC, release the IPAM reservation, apply the backup retention policy,
// and remove the App row. Best-effort past the first hard failure would
// leave an orphaned container, so a destroy failure aborts before the row
// is removed — everything else already succeeded is not undone.
func (c *Controller) runDelete(ctx context.Context, app *store.App, policy store.DeletePolicy) error {
	if err := c.appliance.DeregisterApp(ctx, app.HostID, app.Hostname); err != nil {
		return fmt.Errorf("deregistering from appliance: %w", err)
	}
	if app.VMID != 0 {
		_ = c.pxm.Stop(ctx, app.VMID)
		if err := c.pxm.Destroy(ctx, app.VMID); err != nil {
			return fmt.Errorf("destroying container %d: %w", app.VMID, err)
		}
	}
	if err := c.ipam.Release(app.HostID, app.Hostname); err != nil {
		return fmt.Errorf("releasing reservation: %w", err)
	}

	if policy == store.DeletePolicyCascade {
		if err := c.store.DeleteBackupsForApp(app.ID); err != nil {
			return fmt.Errorf("cascading backup delete: %w", err)
		}
	}

	return c.store.DeleteApp(app.ID)
}

// Clone hands off to the Deployment Pipeline's clone run. The source App's
// lock is held only through this synchronous validate step — the vzdump
// snapshot/restore that follows runs in the Pipeline's own background
// goroutine, outside the Controller's serialization. See DESIGN.md.
func (c *Controller) Clone(ctx context.Context, appID, newHostname string) (*store.App, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := c.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}
	if !cloneable(app.Status) {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "clone"}
	}

	return c.pipeline.Clone(ctx, appID, newHostname)
}

// Backup kicks off a vzdump backup of appID's container.
func (c *Controller) Backup(ctx context.Context, appID string) (*store.Backup, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := c.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}
	if !cloneable(app.Status) { // same Running/Stopped precondition as clone
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "backup"}
	}

	return c.backup.Create(ctx, appID)
}

// Restore moves appID into Restoring and runs the vzdump restore in the
// background, holding the App's lock for the full duration so a second
// mutating request fails fast with ConflictBusy rather than racing the
// restore.
func (c *Controller) Restore(ctx context.Context, appID, backupID string) (*store.App, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}

	app, err := c.store.GetApp(appID)
	if err != nil {
		release()
		return nil, fmt.Errorf("loading app: %w", err)
	}
	if !cloneable(app.Status) {
		release()
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "restore"}
	}

	swapped, err := c.store.CompareAndSwapStatus(appID, app.Status, store.StatusRestoring, "")
	if err != nil {
		release()
		return nil, fmt.Errorf("transitioning to Restoring: %w", err)
	}
	if !swapped {
		release()
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "restore"}
	}
	app.Status = store.StatusRestoring

	go func() {
		defer release()
		bgCtx := context.Background()
		if err := c.backup.Restore(bgCtx, appID, backupID); err != nil {
			_, _ = c.store.CompareAndSwapStatus(appID, store.StatusRestoring, store.StatusError, err.Error())
			return
		}
		_, _ = c.store.CompareAndSwapStatus(appID, store.StatusRestoring, store.StatusRunning, "")
	}()

	return app, nil
}

// Update runs `docker compose pull && up -d --force-recreate` inside
// appID's container — not part of the status transition table, so it only
// requires Running and does not move the App through an intermediate
// status; it is serialized by the same per-App lock as everything else.
func (c *Controller) Update(ctx context.Context, appID string) (*store.App, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := c.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}
	if app.Status != store.StatusRunning {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "update"}
	}

	result, err := c.pxm.Exec(app.VMID, []string{
		"docker", "compose", "-f", "/opt/app/compose.yml", "--env-file", "/opt/app/.env", "pull",
	})
	if err != nil {
		return nil, fmt.Errorf("docker compose pull: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("docker compose pull exited %d: %s", result.ExitCode, result.Output)
	}

	result, err = c.pxm.Exec(app.VMID, []string{
		"docker", "compose", "-f", "/opt/app/compose.yml", "--env-file", "/opt/app/.env",
		"up", "-d", "--force-recreate",
	})
	if err != nil {
		return nil, fmt.Errorf("docker compose up --force-recreate: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("docker compose up --force-recreate exited %d: %s", result.ExitCode, result.Output)
	}

	app.UpdatedAt = time.Now()
	if err := c.store.UpdateApp(app); err != nil {
		return nil, fmt.Errorf("persisting app: %w", err)
	}
	return app, nil
}

// Resize applies an in-place CPU/memory change via the Proxmox API —
// no container recreate, so (like Update) it isn't in the status
// transition table; Running or Stopped only.
func (c *Controller) Resize(ctx context.Context, appID string, resources store.Resources) (*store.App, error) {
	release, err := c.acquire(appID)
	if err != nil {
		return nil, err
	}
	defer release()

	app, err := c.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading app: %w", err)
	}
	if !cloneable(app.Status) {
		return nil, &ConflictStatusError{AppID: appID, Status: app.Status, Action: "resize"}
	}

	params := url.Values{}
	if resources.Cores > 0 {
		params.Set("cores", strconv.Itoa(resources.Cores))
	}
	if resources.MemoryMB > 0 {
		params.Set("memory", strconv.Itoa(resources.MemoryMB))
	}
	if resources.SwapMB > 0 {
		params.Set("swap", strconv.Itoa(resources.SwapMB))
	}
	if len(params) == 0 {
		return app, nil
	}
	if err := c.pxm.UpdateConfig(ctx, app.VMID, params); err != nil {
		return nil, fmt.Errorf("resizing container %d: %w", app.VMID, err)
	}

	if resources.Cores > 0 {
		app.Resources.Cores = resources.Cores
	}
	if resources.MemoryMB > 0 {
		app.Resources.MemoryMB = resources.MemoryMB
	}
	if resources.SwapMB > 0 {
		app.Resources.SwapMB = resources.SwapMB
	}
	app.UpdatedAt = time.Now()
	if err := c.store.UpdateApp(app); err != nil {
		return nil, fmt.Errorf("persisting resize: %w", err)
	}
	return app, nil
}

// cloneable reports whether status allows clone/backup/restore/resize —
// the same Running|Stopped precondition the table uses for those columns.
func cloneable(status string) bool {
	return status == store.StatusRunning || status == store.StatusStopped
}
