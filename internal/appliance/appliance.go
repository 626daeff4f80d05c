// Package appliance owns the Network Appliance LXC: a per-Host container
// running dnsmasq (DHCP+DNS), a reverse proxy, and NAT from the managed LAN
// to the Host's WAN bridge. Every App deployed on a Host routes through its
// Appliance; the Deployment Pipeline calls Ensure before allocating
// anything, and RegisterApp/DeregisterApp on install/delete.
package appliance

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/store"
)

const (
	applianceTemplate = "debian-12-standard"
	applianceCores    = 1
	applianceMemoryMB = 512
	applianceDiskGB   = 4
	lanInterfaceIndex = "-net1"
	dnsmasqConfPath   = "/etc/dnsmasq.d/proximity.conf"
	proxyConfPath     = "/etc/nginx/conf.d/proximity.conf"
)

// Health reports the per-service status of a Host's Appliance, probed by
// executing diagnostic commands inside the Appliance LXC.
type Health struct {
	DHCP  string
	DNS   string
	Proxy string
	NAT   string
}

// Manager bootstraps and maintains the Network Appliance for each managed
// Host. Registration and deregistration are linearizable per Host — a
// single writer lock on the Appliance config, matching the contract that
// DNS/proxy edits and restarts never interleave.
type Manager struct {
	store *store.Store
	pxm   *proxmox.Manager
	cfg   *config.Config

	mu        sync.Mutex
	hostLocks map[string]*sync.Mutex
}

// New creates a Manager backed by s, driving the Host through pxm.
func New(s *store.Store, pxm *proxmox.Manager, cfg *config.Config) *Manager {
	return &Manager{store: s, pxm: pxm, cfg: cfg, hostLocks: make(map[string]*sync.Mutex)}
}

func (m *Manager) lockFor(hostID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.hostLocks[hostID]
	if !ok {
		l = &sync.Mutex{}
		m.hostLocks[hostID] = l
	}
	return l
}

// Ensure bootstraps the Network Appliance LXC for hostID if it does not
// already exist, otherwise verifies the underlying container is still
// present and running. Idempotent: safe to call at the start of every
// Deployment Pipeline run.
func (m *Manager) Ensure(ctx context.Context, hostID, nodeName string) (*store.Appliance, error) {
	lock := m.lockFor(hostID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetAppliance(hostID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("loading appliance record: %w", err)
	}

	if existing != nil {
		status, err := m.pxm.Status(ctx, existing.VMID)
		if err == nil && status == "running" {
			return existing, nil
		}
		// Record exists and the container is present but stopped — start it
		// rather than re-bootstrap from scratch; the LAN config it already
		// wrote is still valid. A status error (container missing) falls
		// through to a fresh bootstrap below.
		if err == nil && status != "running" {
			if startErr := m.pxm.Start(ctx, existing.VMID); startErr != nil {
				return nil, fmt.Errorf("restarting existing appliance %d: %w", existing.VMID, startErr)
			}
			return existing, nil
		}
	}

	return m.bootstrap(ctx, hostID, nodeName)
}

func (m *Manager) bootstrap(ctx context.Context, hostID, nodeName string) (*store.Appliance, error) {
	net := m.cfg.Network

	ctid, err := m.pxm.AllocateCTID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating appliance vmid: %w", err)
	}

	storage := m.cfg.Defaults.Storage
	if storage == "" {
		storage = config.DefaultStorage
	}
	opts := proxmox.ContainerCreateOptions{
		CTID:         ctid,
		OSTemplate:   m.pxm.ResolveTemplate(ctx, applianceTemplate, "local"),
		Storage:      storage,
		RootFSSize:   applianceDiskGB,
		Cores:        applianceCores,
		MemoryMB:     applianceMemoryMB,
		Bridge:       net.Bridge,
		Hostname:     fmt.Sprintf("proximity-appliance-%s", hostID[:8]),
		Unprivileged: true,
		OnBoot:       true,
		Tags:         "proximity-appliance",
	}
	if err := m.pxm.Create(ctx, opts); err != nil {
		return nil, fmt.Errorf("creating appliance container: %w", err)
	}

	lanIP := net.LANGateway
	lanNet := fmt.Sprintf("name=eth1,bridge=%s,ip=%s/24", net.Bridge, lanIP)
	if err := m.pxm.AppendLXCConfig(ctid, []string{lanInterfaceIndex, lanNet}); err != nil {
		m.rollbackCreate(ctid)
		return nil, fmt.Errorf("attaching LAN interface: %w", err)
	}

	if err := m.pxm.Start(ctx, ctid); err != nil {
		m.rollbackCreate(ctid)
		return nil, fmt.Errorf("starting appliance container: %w", err)
	}

	wanIP, err := m.waitForIP(ctid)
	if err != nil {
		m.rollbackCreate(ctid)
		return nil, fmt.Errorf("appliance never acquired an address: %w", err)
	}

	if err := m.installPackages(ctid); err != nil {
		m.rollbackCreate(ctid)
		return nil, fmt.Errorf("installing appliance packages: %w", err)
	}

	if err := m.writeInitialConfig(ctid, net); err != nil {
		m.rollbackCreate(ctid)
		return nil, fmt.Errorf("writing initial appliance config: %w", err)
	}

	now := time.Now()
	appl := &store.Appliance{
		HostID:     hostID,
		VMID:       ctid,
		WANIP:      wanIP,
		LANIP:      lanIP,
		Subnet:     net.LANSubnet,
		Gateway:    net.LANGateway,
		DHCPStart:  net.DHCPStart,
		DHCPEnd:    net.DHCPEnd,
		DNSDomain:  net.DNSDomain,
		DHCPState:  store.ServiceOk,
		DNSState:   store.ServiceOk,
		ProxyState: store.ServiceOk,
		NATState:   store.ServiceOk,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.UpsertAppliance(appl); err != nil {
		return nil, fmt.Errorf("persisting appliance record: %w", err)
	}
	return appl, nil
}

func (m *Manager) rollbackCreate(ctid int) {
	bg := context.Background()
	_ = m.pxm.Stop(bg, ctid)
	_ = m.pxm.Destroy(bg, ctid)
}

func (m *Manager) waitForIP(ctid int) (string, error) {
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if ip, err := m.pxm.GetIP(ctid); err == nil && ip != "" {
			return ip, nil
		}
		time.Sleep(2 * time.Second)
	}
	return "", fmt.Errorf("timed out waiting for DHCP lease")
}

func (m *Manager) installPackages(ctid int) error {
	result, err := m.pxm.Exec(ctid, []string{
		"bash", "-c",
		"apt-get update && apt-get install -y dnsmasq nginx iptables-persistent",
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("package install exited %d: %s", result.ExitCode, result.Output)
	}

	natScript := fmt.Sprintf(
		"iptables -t nat -A POSTROUTING -s %s -o eth0 -j MASQUERADE && "+
			"sysctl -w net.ipv4.ip_forward=1 && "+
			"echo net.ipv4.ip_forward=1 >> /etc/sysctl.conf && "+
			"netfilter-persistent save",
		m.cfg.Network.LANSubnet)
	result, err = m.pxm.Exec(ctid, []string{"bash", "-c", natScript})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("NAT setup exited %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

func (m *Manager) writeInitialConfig(ctid int, net config.NetworkConfig) error {
	return m.pushAndReload(ctid, dnsmasqData{
		DHCPStart: net.DHCPStart,
		DHCPEnd:   net.DHCPEnd,
		DNSDomain: net.DNSDomain,
	}, proxyData{DNSDomain: net.DNSDomain})
}

// RegisterApp injects a DNS record and reverse-proxy entries for an App
// and reloads both services. The full config is regenerated from the
// Store's current App list rather than diffed incrementally, and each file
// is replaced by an atomic rename, so a failed push leaves that file's
// previous (valid) version in place. The dnsmasq file is activated before
// the proxy file is pushed; a failure on the proxy step leaves the new
// dnsmasq config live next to the previous proxy config, and nothing is
// rolled back.
func (m *Manager) RegisterApp(ctx context.Context, hostID, hostname, ip string, ports []int) error {
	lock := m.lockFor(hostID)
	lock.Lock()
	defer lock.Unlock()
	return m.regenerate(hostID)
}

// DeregisterApp removes an App's DNS/proxy entries. Idempotent: since the
// config is always regenerated from the live App list, calling this after
// the App row is already gone is a no-op.
func (m *Manager) DeregisterApp(ctx context.Context, hostID, hostname string) error {
	lock := m.lockFor(hostID)
	lock.Lock()
	defer lock.Unlock()
	return m.regenerate(hostID)
}

func (m *Manager) regenerate(hostID string) error {
	appl, err := m.store.GetAppliance(hostID)
	if err != nil {
		return fmt.Errorf("loading appliance: %w", err)
	}

	apps, err := m.store.ListAppsByStatus(hostID,
		store.StatusRunning, store.StatusStopped, store.StatusStarting,
		store.StatusStopping, store.StatusRestarting, store.StatusRestoring,
		store.StatusDeploying, store.StatusCloning)
	if err != nil {
		return fmt.Errorf("listing apps: %w", err)
	}

	entries := make([]registryEntry, 0, len(apps))
	for _, a := range apps {
		if a.IP == "" || a.Hostname == "" {
			continue
		}
		ports := make([]int, 0, len(a.Ports))
		for _, p := range a.Ports {
			ports = append(ports, p.Container)
		}
		entries = append(entries, registryEntry{Hostname: a.Hostname, IP: a.IP, Ports: ports})
	}

	dd := dnsmasqData{DHCPStart: appl.DHCPStart, DHCPEnd: appl.DHCPEnd, DNSDomain: appl.DNSDomain, Entries: entries}
	pd := proxyData{DNSDomain: appl.DNSDomain, Entries: entries}
	return m.pushAndReload(appl.VMID, dd, pd)
}

// pushAndReload renders both config files to local temp files, pushes each
// to a ".new" path inside the Appliance LXC, atomically renames it into
// place, then reloads the owning service — write-new-then-rename keeps a
// crash mid-push from corrupting the live config.
func (m *Manager) pushAndReload(ctid int, dd dnsmasqData, pd proxyData) error {
	dnsBytes, err := renderDnsmasq(dd)
	if err != nil {
		return fmt.Errorf("rendering dnsmasq config: %w", err)
	}
	proxyBytes, err := renderProxy(pd)
	if err != nil {
		return fmt.Errorf("rendering proxy config: %w", err)
	}

	if err := m.pushAtomic(ctid, dnsBytes, dnsmasqConfPath, "dnsmasq"); err != nil {
		return err
	}
	if err := m.pushAtomic(ctid, proxyBytes, proxyConfPath, "nginx"); err != nil {
		return err
	}
	return nil
}

func (m *Manager) pushAtomic(ctid int, content []byte, dest, service string) error {
	tmp, err := os.CreateTemp("", "proximity-appliance-*")
	if err != nil {
		return fmt.Errorf("writing temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	tmp.Close()

	newDest := dest + ".new"
	if err := m.pxm.Push(ctid, tmp.Name(), newDest, "0644"); err != nil {
		return fmt.Errorf("pushing %s config: %w", service, err)
	}
	result, err := m.pxm.Exec(ctid, []string{"mv", newDest, dest})
	if err != nil || result.ExitCode != 0 {
		return fmt.Errorf("activating %s config: %w", service, err)
	}
	return m.reload(ctid, service)
}

// reload uses systemctl reload — the source varies between SIGHUP and a
// full restart across services; reload satisfies the idempotent,
// zero-downtime contract for both dnsmasq and nginx without needing a
// service-specific signal path.
func (m *Manager) reload(ctid int, service string) error {
	result, err := m.pxm.Exec(ctid, []string{"systemctl", "reload", service})
	if err != nil {
		return fmt.Errorf("reloading %s: %w", service, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("reloading %s exited %d: %s", service, result.ExitCode, result.Output)
	}
	return nil
}

// Health probes each Appliance service by executing a diagnostic command
// inside the Appliance LXC.
func (m *Manager) Health(ctx context.Context, hostID string) (*Health, error) {
	appl, err := m.store.GetAppliance(hostID)
	if err != nil {
		return nil, fmt.Errorf("loading appliance: %w", err)
	}

	h := &Health{}
	h.DHCP = m.probe(appl.VMID, "systemctl", "is-active", "dnsmasq")
	h.DNS = h.DHCP // dnsmasq serves both DHCP and DNS
	h.Proxy = m.probe(appl.VMID, "systemctl", "is-active", "nginx")
	h.NAT = m.probeNAT(appl.VMID)

	_ = m.store.UpdateApplianceHealth(hostID, h.DHCP, h.DNS, h.Proxy, h.NAT)
	return h, nil
}

func (m *Manager) probe(ctid int, cmd ...string) string {
	result, err := m.pxm.Exec(ctid, cmd)
	if err != nil {
		return store.ServiceDown
	}
	if result.ExitCode == 0 {
		return store.ServiceOk
	}
	return store.ServiceDegraded
}

func (m *Manager) probeNAT(ctid int) string {
	result, err := m.pxm.Exec(ctid, []string{"bash", "-c", "iptables -t nat -C POSTROUTING -o eth0 -j MASQUERADE 2>/dev/null || iptables -t nat -L POSTROUTING -n | grep -q MASQUERADE"})
	if err != nil {
		return store.ServiceDown
	}
	if result.ExitCode == 0 {
		return store.ServiceOk
	}
	return store.ServiceDegraded
}

// Restart stops and starts the Appliance LXC. User Apps remain deployed
// but are unreachable for the duration; callers must not block unrelated
// App operations on this call returning.
func (m *Manager) Restart(ctx context.Context, hostID string) error {
	lock := m.lockFor(hostID)
	lock.Lock()
	defer lock.Unlock()

	appl, err := m.store.GetAppliance(hostID)
	if err != nil {
		return fmt.Errorf("loading appliance: %w", err)
	}
	if err := m.pxm.Stop(ctx, appl.VMID); err != nil {
		return fmt.Errorf("stopping appliance: %w", err)
	}
	if err := m.pxm.Start(ctx, appl.VMID); err != nil {
		return fmt.Errorf("starting appliance: %w", err)
	}
	return nil
}
