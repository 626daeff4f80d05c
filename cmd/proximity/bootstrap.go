package main

import (
	"fmt"
	"os"

	"github.com/proximityhq/proximity/internal/appliance"
	"github.com/proximityhq/proximity/internal/backup"
	"github.com/proximityhq/proximity/internal/catalog"
	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/events"
	"github.com/proximityhq/proximity/internal/ipam"
	"github.com/proximityhq/proximity/internal/lifecycle"
	"github.com/proximityhq/proximity/internal/pipeline"
	"github.com/proximityhq/proximity/internal/proxmox"
	"github.com/proximityhq/proximity/internal/secrets"
	"github.com/proximityhq/proximity/internal/store"
)

// deployment bundles every collaborator wired up from config + the store's
// default Host, shared by serve and the CLI's direct-acting subcommands.
type deployment struct {
	cfg       *config.Config
	store     *store.Store
	catalog   *catalog.Catalog
	proxmox   *proxmox.Manager
	ipam      *ipam.Registry
	appliance *appliance.Manager
	pipeline  *pipeline.Pipeline
	lifecycle *lifecycle.Controller
	backup    *backup.Engine
	events    *events.Hub
	cipher    *secrets.Cipher
}

// bootstrap opens the store, resolves the default Host's Proxmox
// credentials, and wires every internal package together. The returned
// close func must run before the process exits.
func bootstrap(cfg *config.Config, dataDir string) (*deployment, func(), error) {
	cipher := secrets.New(os.Getenv(config.SecretEnvVar))

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.Open(dataDir + "/proximity.db")
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	closeFn := func() { st.Close() }

	host, err := st.GetDefaultHost()
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("no default host configured — run `proximity config host add` first: %w", err)
	}

	tokenSecret := host.TokenSecret
	if secrets.IsEncrypted(tokenSecret) {
		tokenSecret, err = cipher.Decrypt(tokenSecret)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("decrypting host token secret: %w", err)
		}
	}

	client, err := proxmox.NewClient(proxmox.ClientConfig{
		BaseURL:       host.Endpoint,
		TokenID:       host.TokenID,
		TokenSecret:   tokenSecret,
		TLSSkipVerify: !host.VerifyTLS,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating proxmox client: %w", err)
	}
	pxm := proxmox.NewManager(client)

	cat := catalog.New(cfg.Catalog.Dir)
	if err := cat.Load(); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("loading catalog: %w", err)
	}

	reg := ipam.New(st)
	am := appliance.New(st, pxm, cfg)
	be := backup.New(st, pxm, am, cfg)
	hub := events.NewHub()
	pl := pipeline.New(st, cat, reg, am, pxm, hub, cfg)
	ctl := lifecycle.New(st, pxm, am, reg, pl, be)

	return &deployment{
		cfg: cfg, store: st, catalog: cat, proxmox: pxm, ipam: reg,
		appliance: am, pipeline: pl, lifecycle: ctl, backup: be,
		events: hub, cipher: cipher,
	}, closeFn, nil
}
