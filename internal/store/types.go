package store

import "time"

// App status values.
const (
	StatusDeploying = "Deploying"
	StatusCloning   = "Cloning"
	StatusRunning   = "Running"
	StatusStopped   = "Stopped"
	StatusError     = "Error"
	StatusDeleting  = "Deleting"

	// Intermediate statuses collapse back to Running/Stopped/Error once the
	// underlying Proxmox call returns; the Lifecycle Controller writes the
	// final status.
	StatusStarting   = "Starting"
	StatusStopping   = "Stopping"
	StatusRestarting = "Restarting"
	StatusRestoring  = "Restoring"
)

// Backup status values.
const (
	BackupCreating  = "Creating"
	BackupReady     = "Ready"
	BackupFailed    = "Failed"
	BackupRestoring = "Restoring"
)

// Appliance per-service health values.
const (
	ServiceOk       = "Ok"
	ServiceDegraded = "Degraded"
	ServiceDown     = "Down"
)

// DeletePolicy controls what happens to an App's Ready backups on delete.
type DeletePolicy string

const (
	DeletePolicyRetain  DeletePolicy = "retain"
	DeletePolicyCascade DeletePolicy = "cascade"
)

// Host is a managed Proxmox VE endpoint.
type Host struct {
	ID            string
	Name          string
	Endpoint      string
	TokenID       string
	TokenSecret   string // encrypted at rest via internal/secrets
	VerifyTLS     bool
	IsDefault     bool
	Nodes         []string // cached node list
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Resources describes the LXC sizing for an App.
type Resources struct {
	Cores    int
	MemoryMB int
	DiskGB   int
	SwapMB   int
}

// Port is a single declared/exposed TCP port for an App.
type Port struct {
	Container int
	Host      int // 0 = appliance-assigned
	Protocol  string
}

// App is a managed instance derived from a CatalogApp.
type App struct {
	ID         string
	CatalogID  string
	Name       string
	Hostname   string
	HostID     string
	NodeName   string
	VMID       int // 0 = unallocated
	IP         string
	Status     string
	Resources  Resources
	Env        map[string]string
	Ports      []Port
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// StatusReason carries the human-readable explanation for Error status.
	StatusReason string
}

// DeploymentLogEntry is one append-only line of an App's pipeline log.
type DeploymentLogEntry struct {
	AppID     string
	Timestamp time.Time
	Step      string
	Level     string
	Message   string
}

// Backup is a point-in-time vzdump snapshot of an App.
type Backup struct {
	ID          string
	AppID       string
	Filename    string
	SizeBytes   int64
	Compression string
	Status      string
	CreatedAt   time.Time
}

// Appliance is the Network Appliance LXC owned by a Host.
type Appliance struct {
	HostID      string
	VMID        int
	WANIP       string
	LANIP       string
	Subnet      string
	Gateway     string
	DHCPStart   string
	DHCPEnd     string
	DNSDomain   string
	DHCPState   string
	DNSState    string
	ProxyState  string
	NATState    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reservation binds a hostname+IP pair to an (eventual) App.
type Reservation struct {
	HostID    string
	Hostname  string
	IP        string
	AppID     string // empty while the pipeline is still in flight
	Token     string
	CreatedAt time.Time
}

// Setting is a single control-plane key/value, optionally encrypted.
type Setting struct {
	Key       string
	Value     string
	Category  string
	Encrypted bool
}
