// Package config loads and validates the process configuration file and
// exposes the recognized setting keys used by the rest of the
// orchestrator.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration written to config.yml.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Auth      AuthConfig      `yaml:"auth"`
	Defaults  ResourceConfig  `yaml:"defaults"`
	Network   NetworkConfig   `yaml:"network"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Backup    BackupConfig    `yaml:"backup"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// ResourceConfig holds the fallback resource shape applied when a
// DeployRequest or CatalogApp omits one.
type ResourceConfig struct {
	Cores    int    `yaml:"cores"`
	MemoryMB int    `yaml:"memory_mb"`
	DiskGB   int    `yaml:"disk_gb"`
	SwapMB   int    `yaml:"swap_mb"`
	Storage  string `yaml:"storage"`
	Template string `yaml:"template"`
}

// ServiceConfig is the HTTP bind configuration for the control plane.
type ServiceConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// AuthConfig configures the minimal session auth used by the HTTP surface.
// Full auth/registration is an external collaborator; this is the
// thin stand-in the orchestrator needs to gate its own API.
type AuthConfig struct {
	Mode         string `yaml:"mode"`
	PasswordHash string `yaml:"password_hash,omitempty"`
	HMACSecret   string `yaml:"hmac_secret,omitempty"`
}

// NetworkConfig is the LAN_SUBNET/DHCP/DNS shape every Host's Appliance
// and IPAM registry is bootstrapped from.
type NetworkConfig struct {
	LANSubnet string `yaml:"lan_subnet"`
	LANGateway string `yaml:"lan_gateway"`
	DHCPStart string `yaml:"dhcp_start"`
	DHCPEnd   string `yaml:"dhcp_end"`
	DNSDomain string `yaml:"dns_domain"`
	Bridge    string `yaml:"bridge"`
}

type CatalogConfig struct {
	Dir string `yaml:"dir"`
}

// PipelineConfig holds the Deployment Pipeline's tunables.
type PipelineConfig struct {
	TimeoutSeconds    int `yaml:"timeout_seconds"`
	PollingIntervalS  int `yaml:"polling_interval_s"`
}

type BackupConfig struct {
	RetentionN int `yaml:"retention_n"`
}

// ReconcilerConfig holds the Status Reconciler's polling tunables.
type ReconcilerConfig struct {
	IntervalS    int `yaml:"interval_s"`
	MaxBackoffS  int `yaml:"max_backoff_s"`
}

// Load reads and validates a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-filled with the documented defaults, so a
// partial config.yml only needs to override what it cares about.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{BindAddress: DefaultBindAddress, Port: DefaultPort},
		Auth:    AuthConfig{Mode: AuthModeNone},
		Defaults: ResourceConfig{
			Cores: DefaultCores, MemoryMB: DefaultMemoryMB,
			DiskGB: DefaultDiskGB, SwapMB: DefaultSwapMB,
			Storage: DefaultStorage, Template: DefaultTemplate,
		},
		Network: NetworkConfig{DNSDomain: DefaultDNSDomain},
		Catalog: CatalogConfig{Dir: DefaultCatalogDir},
		Pipeline: PipelineConfig{
			TimeoutSeconds: DefaultPipelineTO, PollingIntervalS: DefaultPollSecs,
		},
		Backup: BackupConfig{RetentionN: DefaultRetentionN},
		Reconciler: ReconcilerConfig{
			IntervalS: DefaultReconcileIntervalS, MaxBackoffS: DefaultReconcileMaxBackoffS,
		},
	}
}

// Validate checks that all required fields are present and values are in range.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be between 1 and 65535")
	}
	if c.Service.BindAddress == "" {
		return fmt.Errorf("service.bind_address is required")
	}

	switch c.Auth.Mode {
	case AuthModeNone:
	case AuthModePassword:
		if c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.password_hash is required when auth.mode is %q", AuthModePassword)
		}
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("auth.hmac_secret is required when auth.mode is %q", AuthModePassword)
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q", AuthModeNone, AuthModePassword)
	}

	if c.Defaults.Cores < 1 {
		return fmt.Errorf("defaults.cores must be >= 1")
	}
	if c.Defaults.MemoryMB < 128 {
		return fmt.Errorf("defaults.memory_mb must be >= 128")
	}
	if c.Defaults.DiskGB < 1 {
		return fmt.Errorf("defaults.disk_gb must be >= 1")
	}

	if c.Catalog.Dir == "" {
		return fmt.Errorf("catalog.dir is required")
	}

	if c.Pipeline.TimeoutSeconds < 1 {
		return fmt.Errorf("pipeline.timeout_seconds must be >= 1")
	}
	if c.Pipeline.PollingIntervalS < 1 {
		return fmt.Errorf("pipeline.polling_interval_s must be >= 1")
	}

	if c.Backup.RetentionN < 0 {
		return fmt.Errorf("backup.retention_n must be >= 0")
	}

	if c.Reconciler.IntervalS < 1 {
		return fmt.Errorf("reconciler.interval_s must be >= 1")
	}
	if c.Reconciler.MaxBackoffS < c.Reconciler.IntervalS {
		return fmt.Errorf("reconciler.max_backoff_s must be >= reconciler.interval_s")
	}

	return nil
}

// Save writes the config to the given path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
