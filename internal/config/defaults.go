package config

const (
	// Filesystem paths
	DefaultConfigPath = "/etc/proximity/config.yml"
	DefaultDataDir    = "/var/lib/proximity"
	DefaultLogDir     = "/var/log/proximity"

	// Service defaults
	DefaultBindAddress = "0.0.0.0"
	DefaultPort        = 8088

	// Container defaults
	DefaultCores    = 2
	DefaultMemoryMB = 2048
	DefaultDiskGB   = 8
	DefaultSwapMB   = 512
	DefaultStorage  = "local-lvm"
	DefaultTemplate = "debian-12-standard"

	// Catalog defaults
	DefaultCatalogDir = "/var/lib/proximity/catalog"

	// Auth modes
	AuthModeNone     = "none"
	AuthModePassword = "password"

	// Networking defaults
	DefaultDNSDomain  = "lan.proximity"
	DefaultPollSecs   = 5
	DefaultPipelineTO = 600
	DefaultRetentionN = 5

	// Reconciler defaults
	DefaultReconcileIntervalS   = 5
	DefaultReconcileMaxBackoffS = 60

	// Secret env var providing the process-level secret used to derive the
	// encryption key for ENCRYPTED_KEYS (see internal/secrets).
	SecretEnvVar = "PROXIMITY_SECRET"
)

// EncryptedKeys is the closed set of setting keys that must always be
// stored encrypted at rest.
var EncryptedKeys = map[string]bool{
	"proxmox_password": true,
	"proxmox_token":    true,
	"smtp_password":    true,
}
