// Package pipeline drives a DeployRequest through the Deployment Pipeline
// state machine: validate, allocate resources, create the LXC, start it,
// install the catalog app's Docker Compose bundle, register it with the
// Host's Network Appliance, and finalize. Each transition is persisted and
// a progress event is published; a failure at any step triggers a reverse
// rollback.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proximityhq/proximity/internal/appliance"
	"github.com/proximityhq/proximity/internal/catalog"
	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/events"
	"github.com/proximityhq/proximity/internal/ipam"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

// DeployRequest is the input to Pipeline.Deploy — the fields a caller may
// override are optional; everything else is drawn from the CatalogApp.
type DeployRequest struct {
	CatalogID string
	HostID    string
	NodeName  string // defaults to the Host's first configured node
	Hostname  string
	Env       map[string]string // merged over the catalog app's declared environment
	Resources *store.Resources  // overrides the catalog app's resource minimums when set
}

// Pipeline is the Deployment Pipeline. One Pipeline serves every Host; each
// run is independent and identified by its App's ID.
type Pipeline struct {
	store     *store.Store
	catalog   *catalog.Catalog
	ipam      *ipam.Registry
	appliance *appliance.Manager
	pxm       *proxmox.Manager
	events    *events.Hub
	cfg       *config.Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Pipeline wired to its collaborators.
func New(s *store.Store, cat *catalog.Catalog, reg *ipam.Registry, am *appliance.Manager, pxm *proxmox.Manager, hub *events.Hub, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store: s, catalog: cat, ipam: reg, appliance: am, pxm: pxm, events: hub, cfg: cfg,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Deploy validates the request, creates the App row in Deploying status,
// and starts the pipeline in the background. It returns as soon as the App
// row exists — callers subscribe to internal/events for progress.
func (p *Pipeline) Deploy(ctx context.Context, req DeployRequest) (*store.App, error) {
	catalogApp, ok := p.catalog.Get(req.CatalogID)
	if !ok {
		return nil, fmt.Errorf("catalog app %q not found", req.CatalogID)
	}
	if err := ipam.ValidateHostname(req.Hostname); err != nil {
		return nil, err
	}

	host, err := p.store.GetHost(req.HostID)
	if err != nil {
		return nil, fmt.Errorf("loading host: %w", err)
	}
	nodeName := req.NodeName
	if nodeName == "" {
		if len(host.Nodes) == 0 {
			return nil, fmt.Errorf("host %s has no nodes configured", req.HostID)
		}
		nodeName = host.Nodes[0]
	}

	resources := req.Resources
	if resources == nil {
		resources = &store.Resources{
			Cores:    firstPositive(catalogApp.MinCores, p.cfg.Defaults.Cores),
			MemoryMB: firstPositive(catalogApp.MinMemoryMB, p.cfg.Defaults.MemoryMB),
			DiskGB:   p.cfg.Defaults.DiskGB,
			SwapMB:   p.cfg.Defaults.SwapMB,
		}
	}

	ports := make([]store.Port, 0, len(catalogApp.Ports))
	for _, cp := range catalogApp.Ports {
		ports = append(ports, store.Port{Container: cp, Protocol: "tcp"})
	}

	now := time.Now()
	app := &store.App{
		ID:        uuid.NewString(),
		CatalogID: req.CatalogID,
		Name:      catalogApp.Name,
		Hostname:  req.Hostname,
		HostID:    req.HostID,
		NodeName:  nodeName,
		Status:    store.StatusDeploying,
		Resources: *resources,
		Env:       mergeEnv(catalogApp.Environment, req.Env),
		Ports:     ports,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateApp(app); err != nil {
		return nil, fmt.Errorf("creating app record: %w", err)
	}

	timeout := time.Duration(p.cfg.Pipeline.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultPipelineTO) * time.Second
	}
	pctx, cancel := context.WithTimeout(context.Background(), timeout)
	p.setCancel(app.ID, cancel)

	go p.run(pctx, app, catalogApp)

	return app, nil
}

// Cancel aborts an in-flight deployment, triggering its rollback. Reports
// false if no pipeline is running for appID (already finished, or never
// started one).
func (p *Pipeline) Cancel(appID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[appID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (p *Pipeline) setCancel(appID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[appID] = cancel
}

func (p *Pipeline) clearCancel(appID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, appID)
}

func mergeEnv(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
