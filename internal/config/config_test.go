package config

import (
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Network = NetworkConfig{
		LANSubnet:  "10.10.10.0/24",
		LANGateway: "10.10.10.1",
		DHCPStart:  "10.10.10.50",
		DHCPEnd:    "10.10.10.200",
		DNSDomain:  "lan.proximity",
		Bridge:     "vmbr1",
	}
	return cfg
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Service.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}
}

func TestValidateRejectsUnknownAuthMode(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "ldap"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown auth mode")
	}
}

func TestValidateRejectsLowMemory(t *testing.T) {
	cfg := validConfig()
	cfg.Defaults.MemoryMB = 64
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for memory below minimum")
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	cfg := validConfig()
	cfg.Pipeline.TimeoutSeconds = 900

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Pipeline.TimeoutSeconds != 900 {
		t.Fatalf("expected timeout 900, got %d", loaded.Pipeline.TimeoutSeconds)
	}
	if loaded.Network.DHCPStart != "10.10.10.50" {
		t.Fatalf("expected dhcp_start preserved, got %q", loaded.Network.DHCPStart)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Network.DHCPStart = "10.0.0.10"
	cfg.Network.DHCPEnd = "10.0.0.200"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate once network is set: %v", err)
	}
}
