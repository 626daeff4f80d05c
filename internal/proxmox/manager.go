package proxmox

import (
	"context"
	"fmt"
	"net/url"

	"github.com/proximityhq/proximity/internal/pct"
)

// Manager bundles the REST Client with the shell fallback in internal/pct
// into the single driver the Deployment Pipeline and Lifecycle Controller
// call against — API-backed operations delegate to *Client; operations with
// no REST equivalent (Exec, Push, GetIP, device passthrough) delegate to pct.
type Manager struct {
	client *Client
}

// NewManager creates a new Manager wrapping the given Client.
func NewManager(client *Client) *Manager {
	return &Manager{client: client}
}

func (m *Manager) AllocateCTID(ctx context.Context) (int, error) {
	return m.client.AllocateCTID(ctx)
}

func (m *Manager) Create(ctx context.Context, opts ContainerCreateOptions) error {
	return m.client.Create(ctx, opts)
}

func (m *Manager) Start(ctx context.Context, ctid int) error {
	return m.client.Start(ctx, ctid)
}

func (m *Manager) Stop(ctx context.Context, ctid int) error {
	return m.client.Stop(ctx, ctid)
}

func (m *Manager) Shutdown(ctx context.Context, ctid int, timeout int) error {
	return m.client.Shutdown(ctx, ctid, timeout)
}

func (m *Manager) Destroy(ctx context.Context, ctid int, keepVolumes ...bool) error {
	return m.client.Destroy(ctx, ctid, keepVolumes...)
}

func (m *Manager) Status(ctx context.Context, ctid int) (string, error) {
	return m.client.Status(ctx, ctid)
}

func (m *Manager) StatusDetail(ctx context.Context, ctid int) (*ContainerStatusDetail, error) {
	return m.client.StatusDetail(ctx, ctid)
}

func (m *Manager) ResolveTemplate(ctx context.Context, name, storage string) string {
	return m.client.ResolveTemplate(ctx, name, storage)
}

// Shell-based operations — no API equivalent.

func (m *Manager) Exec(ctid int, command []string) (*pct.ExecResult, error) {
	return pct.Exec(ctid, command)
}

func (m *Manager) ExecStream(ctid int, command []string, onLine func(line string)) (*pct.ExecResult, error) {
	return pct.ExecStream(ctid, command, onLine)
}

func (m *Manager) ExecScript(ctid int, scriptPath string, env map[string]string) (*pct.ExecResult, error) {
	return pct.ExecScript(ctid, scriptPath, env)
}

func (m *Manager) Push(ctid int, src, dst, perms string) error {
	return pct.Push(ctid, src, dst, perms)
}

func (m *Manager) GetIP(ctid int) (string, error) {
	return pct.GetIP(ctid)
}

func (m *Manager) GetConfig(ctx context.Context, ctid int) (map[string]interface{}, error) {
	return m.client.GetConfig(ctx, ctid)
}

func (m *Manager) DetachMountPoints(ctx context.Context, ctid int, indexes []int) error {
	return m.client.DetachMountPoints(ctx, ctid, indexes)
}

func (m *Manager) UpdateConfig(ctx context.Context, ctid int, params url.Values) error {
	return m.client.UpdateConfig(ctx, ctid, params)
}

// ConfigureDevices applies device passthrough entries after container
// creation — the API restricts dev* config to root@pam, so this always
// goes through pct set.
func (m *Manager) ConfigureDevices(ctid int, devices []DevicePassthrough) error {
	for i, dev := range devices {
		val := dev.Path
		if dev.GID > 0 {
			val += fmt.Sprintf(",gid=%d", dev.GID)
		}
		if dev.Mode != "" {
			val += fmt.Sprintf(",mode=%s", dev.Mode)
		}
		if err := pct.Set(ctid, fmt.Sprintf("-dev%d", i), val); err != nil {
			return fmt.Errorf("configuring device %d (%s): %w", i, dev.Path, err)
		}
	}
	return nil
}

func (m *Manager) MountHostPath(ctid int, mpIndex int, hostPath, containerPath string, readOnly bool) error {
	val := fmt.Sprintf("%s,mp=%s", hostPath, containerPath)
	if readOnly {
		val += ",ro=1"
	}
	return pct.Set(ctid, fmt.Sprintf("-mp%d", mpIndex), val)
}

func (m *Manager) AppendLXCConfig(ctid int, lines []string) error {
	return pct.Set(ctid, lines...)
}

// ResolvedStorageInfo reports the host filesystem path backing a storage,
// when browsable.
type ResolvedStorageInfo struct {
	ID        string
	Type      string
	Path      string
	Browsable bool
}

// Backup/restore — delegates to the REST vzdump endpoints.

func (m *Manager) VzdumpCreate(ctx context.Context, opts VzdumpCreateOptions) (string, error) {
	return m.client.VzdumpCreate(ctx, opts)
}

func (m *Manager) VzdumpRestore(ctx context.Context, opts VzdumpRestoreOptions) error {
	return m.client.VzdumpRestore(ctx, opts)
}

func (m *Manager) DeleteArchive(ctx context.Context, storage, volid string) error {
	return m.client.DeleteArchive(ctx, storage, volid)
}

func (m *Manager) GetStorageInfo(ctx context.Context, storageID string) (*ResolvedStorageInfo, error) {
	si, err := m.client.GetStorageInfo(ctx, storageID)
	if err != nil {
		return nil, err
	}

	info := &ResolvedStorageInfo{ID: si.ID, Type: si.Type}
	switch si.Type {
	case "zfspool":
		info.Path = si.Mountpoint
		info.Browsable = si.Mountpoint != ""
	case "dir", "nfs", "nfs4", "cifs":
		info.Path = si.Path
		info.Browsable = si.Path != ""
	default:
		// lvmthin, lvm, iscsi, etc. — block storage, not browsable
		info.Browsable = false
	}
	return info, nil
}
