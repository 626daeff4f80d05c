// Package reconciler runs the Status Reconciler: a background, per-Host
// polling loop that compares the Store's recorded App status against what
// Proxmox actually reports and corrects drift. It never drives an
// intermediate status (Starting/Stopping/Restarting/Deleting/Restoring) —
// those belong to the Lifecycle Controller; the Reconciler only ever moves
// an App among Running, Stopped, and Error.
package reconciler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

const (
	pollTimeout   = 15 * time.Second
	missingReason = "vmid missing"
)

// Reconciler polls every Host independently, each with its own exponential
// backoff on consecutive failures.
type Reconciler struct {
	store *store.Store
	pxm   *proxmox.Manager
	cfg   *config.Config
}

func New(s *store.Store, pxm *proxmox.Manager, cfg *config.Config) *Reconciler {
	return &Reconciler{store: s, pxm: pxm, cfg: cfg}
}

// Run lists the known Hosts and starts one polling goroutine per Host,
// blocking until ctx is canceled. A Host added after Run starts is picked
// up the next time the process restarts Run — matching the teacher's own
// coarse "rescan on restart" treatment of its background refresh loop
// rather than adding dynamic Host-watch machinery the spec never asks for.
func (r *Reconciler) Run(ctx context.Context) {
	hosts, err := r.store.ListHosts()
	if err != nil {
		log.Printf("[reconciler] listing hosts: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func(hostID string) {
			defer wg.Done()
			r.runHost(ctx, hostID)
		}(h.ID)
	}
	wg.Wait()
}

func (r *Reconciler) runHost(ctx context.Context, hostID string) {
	base := time.Duration(r.cfg.Reconciler.IntervalS) * time.Second
	maxBackoff := time.Duration(r.cfg.Reconciler.MaxBackoffS) * time.Second
	interval := base

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			ok := r.pollHost(ctx, hostID)
			interval = nextInterval(interval, base, maxBackoff, ok)
			timer.Reset(interval)
		}
	}
}

// pollHost checks every App on hostID whose status is Running, Stopped, or
// Error against Proxmox's live status and corrects drift. It returns false
// if any query against this Host failed transiently, so runHost's caller
// backs off; a per-App "vmid missing" finding is not itself a Host-level
// failure and doesn't affect backoff.
func (r *Reconciler) pollHost(ctx context.Context, hostID string) bool {
	apps, err := r.store.ListAppsByStatus(hostID, store.StatusRunning, store.StatusStopped, store.StatusError)
	if err != nil {
		log.Printf("[reconciler] host %s: listing apps: %v", hostID, err)
		return false
	}

	ok := true
	for _, app := range apps {
		if app.VMID == 0 {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, pollTimeout)
		status, err := r.pxm.Status(pctx, app.VMID)
		cancel()

		if err != nil {
			if proxmox.Classify(err).Class == proxmox.ClassNotFound {
				r.markMissing(app)
				continue
			}
			// Transient API errors do not mutate records.
			ok = false
			continue
		}
		r.reconcileApp(app, status)
	}
	return ok
}

func (r *Reconciler) reconcileApp(app *store.App, liveStatus string) {
	want := store.StatusStopped
	if liveStatus == "running" {
		want = store.StatusRunning
	}
	if want == app.Status {
		return
	}

	swapped, err := r.store.CompareAndSwapStatus(app.ID, app.Status, want, "")
	if err != nil {
		log.Printf("[reconciler] app %s: updating drifted status: %v", app.ID, err)
		return
	}
	if swapped {
		log.Printf("[reconciler] app %s: drift detected, %s -> %s", app.ID, app.Status, want)
	}
}

func (r *Reconciler) markMissing(app *store.App) {
	if app.Status == store.StatusError && app.StatusReason == missingReason {
		return
	}
	if _, err := r.store.CompareAndSwapStatus(app.ID, app.Status, store.StatusError, missingReason); err != nil {
		log.Printf("[reconciler] app %s: marking vmid missing: %v", app.ID, err)
	}
}

// nextInterval computes the next poll delay for a Host: base after any
// success, doubled (capped at maxBackoff) after a failure.
func nextInterval(current, base, maxBackoff time.Duration, ok bool) time.Duration {
	if ok {
		return base
	}
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
