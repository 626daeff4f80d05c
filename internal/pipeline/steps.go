package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/proximityhq/proximity/internal/catalog"
	"github.com/proximityhq/proximity/internal/events"
	"github.com/proximityhq/proximity/internal/ipam"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

// deploySteps is the ordered Deployment Pipeline state machine. percent is
// the fixed progress mapping published once the step completes.
var deploySteps = []struct {
	name    string
	percent int
	fn      func(rc *runContext) error
}{
	{"validate", 10, stepValidate},
	{"allocate", 20, stepAllocate},
	{"lxc_create", 35, stepCreate},
	{"lxc_start", 50, stepStart},
	{"install", 75, stepInstall},
	{"register", 90, stepRegister},
	{"finalize", 100, stepFinalize},
}

// runContext carries state between steps of a single pipeline run, and
// what rollback needs to know about should it fail partway through.
type runContext struct {
	ctx        context.Context
	p          *Pipeline
	app        *store.App
	catalogApp *catalog.CatalogApp

	token      string // ipam reservation token, set once allocate succeeds
	created    bool   // lxc_create succeeded — rollback must destroy
	registered bool   // register succeeded — rollback must deregister
}

func (rc *runContext) log(level, step, msg string, args ...interface{}) {
	_ = rc.p.store.AppendDeploymentLog(&store.DeploymentLogEntry{
		AppID: rc.app.ID, Timestamp: time.Now(), Step: step, Level: level,
		Message: fmt.Sprintf(msg, args...),
	})
}

func (rc *runContext) info(step, msg string, args ...interface{}) { rc.log("info", step, msg, args...) }
func (rc *runContext) warn(step, msg string, args ...interface{}) { rc.log("warn", step, msg, args...) }

func (p *Pipeline) publish(appID, step string, percent int, message string) {
	p.events.Publish(events.Progress{
		AppID: appID, Step: step, Percent: percent, Message: message, Timestamp: time.Now(),
	})
}

// run executes deploySteps in order, logging each step's start to the
// deployment log and emitting a progress event after each one completes;
// the App row is written by the steps that change it. A cancelled context
// or a step error both end the run in rollback.
func (p *Pipeline) run(ctx context.Context, app *store.App, catalogApp *catalog.CatalogApp) {
	defer p.clearCancel(app.ID)

	rc := &runContext{ctx: ctx, p: p, app: app, catalogApp: catalogApp}

	for _, step := range deploySteps {
		select {
		case <-ctx.Done():
			rc.warn(step.name, "pipeline cancelled before %s", step.name)
			p.rollback(rc, "cancelled")
			return
		default:
		}

		rc.info(step.name, "starting")
		if err := step.fn(rc); err != nil {
			if ctx.Err() != nil {
				rc.warn(step.name, "cancelled during %s: %v", step.name, err)
				p.rollback(rc, "cancelled")
				return
			}
			rc.warn(step.name, "failed: %v", err)
			p.rollback(rc, fmt.Sprintf("%s: %v", step.name, err))
			return
		}
		p.publish(app.ID, step.name, step.percent, step.name+" complete")
	}
}

// rollback runs the reverse of whatever the pipeline completed so far:
// deregister, stop+destroy the LXC, release the reservation, and mark the
// App Error with reason. Each step is best-effort — a rollback failure is
// logged but never masks the original failure reason.
func (p *Pipeline) rollback(rc *runContext, reason string) {
	bg := context.Background()

	if rc.registered {
		if err := p.appliance.DeregisterApp(bg, rc.app.HostID, rc.app.Hostname); err != nil {
			rc.warn("rollback", "deregister failed: %v", err)
		}
	}
	if rc.created {
		_ = p.pxm.Stop(bg, rc.app.VMID)
		if err := p.pxm.Destroy(bg, rc.app.VMID); err != nil {
			rc.warn("rollback", "destroy container %d failed: %v", rc.app.VMID, err)
		}
	}
	if rc.token != "" {
		if err := p.ipam.Release(rc.app.HostID, rc.app.Hostname); err != nil {
			rc.warn("rollback", "release reservation failed: %v", err)
		}
	}

	rc.app.Status = store.StatusError
	rc.app.StatusReason = reason
	rc.app.UpdatedAt = time.Now()
	if err := p.store.UpdateApp(rc.app); err != nil {
		rc.warn("rollback", "persisting Error status failed: %v", err)
	}
	p.publish(rc.app.ID, "rollback", 0, reason)
}

func stepValidate(rc *runContext) error {
	if _, ok := rc.p.catalog.Get(rc.app.CatalogID); !ok {
		return fmt.Errorf("catalog app %q no longer exists", rc.app.CatalogID)
	}
	return ipam.ValidateHostname(rc.app.Hostname)
}

func stepAllocate(rc *runContext) error {
	if _, err := rc.p.appliance.Ensure(rc.ctx, rc.app.HostID, rc.app.NodeName); err != nil {
		return fmt.Errorf("ensuring appliance: %w", err)
	}

	appl, err := rc.p.store.GetAppliance(rc.app.HostID)
	if err != nil {
		return fmt.Errorf("loading appliance: %w", err)
	}

	ip, token, err := rc.p.ipam.Reserve(rc.app.HostID, rc.app.Hostname, appl.DHCPStart, appl.DHCPEnd)
	if err != nil {
		return fmt.Errorf("reserving address: %w", err)
	}
	rc.token = token
	rc.app.IP = ip

	vmid, err := rc.p.pxm.AllocateCTID(rc.ctx)
	if err != nil {
		return fmt.Errorf("allocating vmid: %w", err)
	}
	rc.app.VMID = vmid

	rc.app.UpdatedAt = time.Now()
	return rc.p.store.UpdateApp(rc.app)
}

func stepCreate(rc *runContext) error {
	storage := rc.p.cfg.Defaults.Storage
	if storage == "" {
		storage = "local-lvm"
	}

	opts := proxmox.ContainerCreateOptions{
		CTID:         rc.app.VMID,
		OSTemplate:   rc.p.pxm.ResolveTemplate(rc.ctx, rc.p.cfg.Defaults.Template, storage),
		Storage:      storage,
		RootFSSize:   rc.app.Resources.DiskGB,
		Cores:        rc.app.Resources.Cores,
		MemoryMB:     rc.app.Resources.MemoryMB,
		Bridge:       rc.p.cfg.Network.Bridge,
		Hostname:     rc.app.Hostname,
		IPAddress:    rc.app.IP,
		Unprivileged: true,
		OnBoot:       true,
		Tags:         "proximity-app",
	}
	if err := rc.p.pxm.Create(rc.ctx, opts); err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	rc.created = true
	return nil
}

func stepStart(rc *runContext) error {
	return rc.p.pxm.Start(rc.ctx, rc.app.VMID)
}

// stepInstall waits for the container's network to be up, pushes the
// catalog app's Compose bundle plus a generated .env, and brings it up.
// Image pulls can legitimately take minutes; polling continues until the
// pipeline's own context deadline rather than a fixed short timeout.
func stepInstall(rc *runContext) error {
	if _, err := waitForContainerNetwork(rc.p, rc.app.VMID); err != nil {
		return fmt.Errorf("waiting for network: %w", err)
	}

	catalogApp := rc.catalogApp

	if _, err := rc.p.pxm.Exec(rc.app.VMID, []string{"mkdir", "-p", "/opt/app"}); err != nil {
		return fmt.Errorf("creating /opt/app: %w", err)
	}

	composePath, err := writeTempFile(catalogApp.Compose)
	if err != nil {
		return err
	}
	defer removeTempFile(composePath)
	if err := rc.p.pxm.Push(rc.app.VMID, composePath, "/opt/app/compose.yml", "0644"); err != nil {
		return fmt.Errorf("pushing compose bundle: %w", err)
	}

	envPath, err := writeTempFile([]byte(renderEnvFile(rc.app.Env)))
	if err != nil {
		return err
	}
	defer removeTempFile(envPath)
	if err := rc.p.pxm.Push(rc.app.VMID, envPath, "/opt/app/.env", "0600"); err != nil {
		return fmt.Errorf("pushing .env: %w", err)
	}

	result, err := rc.p.pxm.Exec(rc.app.VMID, []string{
		"docker", "compose", "-f", "/opt/app/compose.yml", "--env-file", "/opt/app/.env", "up", "-d",
	})
	if err != nil {
		return fmt.Errorf("docker compose up: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("docker compose up exited %d: %s", result.ExitCode, result.Output)
	}

	return waitForComposeHealth(rc)
}

func stepRegister(rc *runContext) error {
	ports := make([]int, 0, len(rc.app.Ports))
	for _, p := range rc.app.Ports {
		ports = append(ports, p.Container)
	}
	if err := rc.p.appliance.RegisterApp(rc.ctx, rc.app.HostID, rc.app.Hostname, rc.app.IP, ports); err != nil {
		return fmt.Errorf("registering with appliance: %w", err)
	}
	rc.registered = true
	return nil
}

func stepFinalize(rc *runContext) error {
	if err := rc.p.ipam.Bind(rc.token, rc.app.ID); err != nil {
		return fmt.Errorf("binding reservation: %w", err)
	}
	rc.app.Status = store.StatusRunning
	rc.app.StatusReason = ""
	rc.app.UpdatedAt = time.Now()
	return rc.p.store.UpdateApp(rc.app)
}
