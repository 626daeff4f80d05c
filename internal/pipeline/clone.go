package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

// cloneSteps is the specialized pipeline clone() runs: vzdump snapshot the
// source, restore it into a new vmid under the new hostname, reconfigure
// its LAN interface, register it with the Appliance, and finalize.
var cloneSteps = []struct {
	name    string
	percent int
	fn      func(rc *cloneContext) error
}{
	{"snapshot", 20, stepCloneSnapshot},
	{"restore", 50, stepCloneRestore},
	{"reconfigure", 70, stepCloneReconfigure},
	{"register", 90, stepCloneRegister},
	{"finalize", 100, stepCloneFinalize},
}

type cloneContext struct {
	runContext
	src           *store.App
	snapshotVolid string
}

// Clone runs a specialized pipeline that produces a second App from an
// existing one's current disk state: vzdump snapshot, vzdump restore under
// a new vmid and hostname, LAN reconfiguration, Appliance registration.
func (p *Pipeline) Clone(ctx context.Context, appID, newHostname string) (*store.App, error) {
	src, err := p.store.GetApp(appID)
	if err != nil {
		return nil, fmt.Errorf("loading source app: %w", err)
	}

	appl, err := p.store.GetAppliance(src.HostID)
	if err != nil {
		return nil, fmt.Errorf("loading appliance: %w", err)
	}

	ip, token, err := p.ipam.Reserve(src.HostID, newHostname, appl.DHCPStart, appl.DHCPEnd)
	if err != nil {
		return nil, fmt.Errorf("reserving address for clone: %w", err)
	}

	now := time.Now()
	clone := &store.App{
		ID:        uuid.NewString(),
		CatalogID: src.CatalogID,
		Name:      src.Name,
		Hostname:  newHostname,
		HostID:    src.HostID,
		NodeName:  src.NodeName,
		IP:        ip,
		Status:    store.StatusCloning,
		Resources: src.Resources,
		Env:       mergeEnv(src.Env, nil),
		Ports:     append([]store.Port(nil), src.Ports...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateApp(clone); err != nil {
		_ = p.ipam.Release(src.HostID, newHostname)
		return nil, fmt.Errorf("creating clone app record: %w", err)
	}

	timeout := time.Duration(p.cfg.Pipeline.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultPipelineTO) * time.Second
	}
	pctx, cancel := context.WithTimeout(context.Background(), timeout)
	p.setCancel(clone.ID, cancel)

	go p.runClone(pctx, src, clone, token)

	return clone, nil
}

func (p *Pipeline) runClone(ctx context.Context, src, clone *store.App, token string) {
	defer p.clearCancel(clone.ID)

	cc := &cloneContext{
		runContext: runContext{ctx: ctx, p: p, app: clone, token: token},
		src:        src,
	}
	defer p.cleanupCloneSnapshot(cc)

	for _, step := range cloneSteps {
		select {
		case <-ctx.Done():
			cc.warn(step.name, "clone cancelled before %s", step.name)
			p.rollback(&cc.runContext, "cancelled")
			return
		default:
		}

		cc.info(step.name, "starting")
		if err := step.fn(cc); err != nil {
			if ctx.Err() != nil {
				cc.warn(step.name, "cancelled during %s: %v", step.name, err)
				p.rollback(&cc.runContext, "cancelled")
				return
			}
			cc.warn(step.name, "failed: %v", err)
			p.rollback(&cc.runContext, fmt.Sprintf("%s: %v", step.name, err))
			return
		}
		p.publish(clone.ID, step.name, step.percent, step.name+" complete")
	}
}

// cleanupCloneSnapshot deletes the vzdump archive stepCloneSnapshot created
// to seed the clone — it is scratch state for the clone operation, not a
// retained Backup, so it must not survive the run whether the clone
// succeeds or fails partway through.
func (p *Pipeline) cleanupCloneSnapshot(cc *cloneContext) {
	if cc.snapshotVolid == "" {
		return
	}
	storage := cc.p.cfg.Defaults.Storage
	if storage == "" {
		storage = config.DefaultStorage
	}
	if err := p.pxm.DeleteArchive(context.Background(), storage, cc.snapshotVolid); err != nil {
		cc.warn("cleanup", "deleting clone snapshot %s failed: %v", cc.snapshotVolid, err)
	}
}

func stepCloneSnapshot(cc *cloneContext) error {
	storage := cc.p.cfg.Defaults.Storage
	if storage == "" {
		storage = config.DefaultStorage
	}
	volid, err := cc.p.pxm.VzdumpCreate(cc.ctx, proxmox.VzdumpCreateOptions{
		CTID: cc.src.VMID, Storage: storage, Mode: "snapshot",
	})
	if err != nil {
		return fmt.Errorf("snapshotting source container %d: %w", cc.src.VMID, err)
	}
	cc.snapshotVolid = volid
	return nil
}

func stepCloneRestore(cc *cloneContext) error {
	storage := cc.p.cfg.Defaults.Storage
	if storage == "" {
		storage = config.DefaultStorage
	}

	vmid, err := cc.p.pxm.AllocateCTID(cc.ctx)
	if err != nil {
		return fmt.Errorf("allocating clone vmid: %w", err)
	}
	cc.app.VMID = vmid
	cc.app.UpdatedAt = time.Now()
	if err := cc.p.store.UpdateApp(cc.app); err != nil {
		return fmt.Errorf("persisting clone vmid: %w", err)
	}

	if err := cc.p.pxm.VzdumpRestore(cc.ctx, proxmox.VzdumpRestoreOptions{
		CTID: vmid, Archive: cc.snapshotVolid, Storage: storage,
	}); err != nil {
		return fmt.Errorf("restoring clone: %w", err)
	}
	cc.created = true
	return nil
}

// stepCloneReconfigure points the restored container at the new LAN
// address and hostname, then waits for it to come back up.
func stepCloneReconfigure(cc *cloneContext) error {
	gateway := deriveGateway(cc.app.IP)
	netCfg := fmt.Sprintf("name=eth0,bridge=%s,ip=%s/24,gw=%s", cc.p.cfg.Network.Bridge, cc.app.IP, gateway)
	if err := cc.p.pxm.AppendLXCConfig(cc.app.VMID, []string{"-net0", netCfg}); err != nil {
		return fmt.Errorf("reconfiguring LAN interface: %w", err)
	}
	if err := cc.p.pxm.Start(cc.ctx, cc.app.VMID); err != nil {
		return fmt.Errorf("starting clone: %w", err)
	}
	if _, err := waitForContainerNetwork(cc.p, cc.app.VMID); err != nil {
		return err
	}
	result, err := cc.p.pxm.Exec(cc.app.VMID, []string{"hostnamectl", "set-hostname", cc.app.Hostname})
	if err != nil {
		return fmt.Errorf("setting clone hostname: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("setting clone hostname exited %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

func stepCloneRegister(cc *cloneContext) error {
	ports := make([]int, 0, len(cc.app.Ports))
	for _, p := range cc.app.Ports {
		ports = append(ports, p.Container)
	}
	if err := cc.p.appliance.RegisterApp(cc.ctx, cc.app.HostID, cc.app.Hostname, cc.app.IP, ports); err != nil {
		return fmt.Errorf("registering clone with appliance: %w", err)
	}
	cc.registered = true
	return nil
}

func stepCloneFinalize(cc *cloneContext) error {
	if err := cc.p.ipam.Bind(cc.token, cc.app.ID); err != nil {
		return fmt.Errorf("binding clone reservation: %w", err)
	}
	cc.app.Status = store.StatusRunning
	cc.app.StatusReason = ""
	cc.app.UpdatedAt = time.Now()
	return cc.p.store.UpdateApp(cc.app)
}

// deriveGateway replaces the last octet of an IPv4 address with .1 — the
// managed LAN's Appliance always takes the first address in the subnet.
func deriveGateway(ip string) string {
	idx := strings.LastIndex(ip, ".")
	if idx < 0 {
		return ip
	}
	return ip[:idx] + ".1"
}
