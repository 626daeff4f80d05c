package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/secrets"
	"github.com/proximityhq/proximity/internal/store"
)

var configPath string

func init() {
	configCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configHostCmd)
	configHostCmd.AddCommand(configHostAddCmd)
	configHostCmd.AddCommand(configHostListCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and modify Proximity configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println(cyan.Render("Service:"))
		fmt.Println(dim.Render("  bind:     ") + fmt.Sprintf("%s:%d", cfg.Service.BindAddress, cfg.Service.Port))
		fmt.Println(dim.Render("  auth:     ") + cfg.Auth.Mode)
		fmt.Println(cyan.Render("Defaults:"))
		fmt.Println(dim.Render("  cores:    ") + fmt.Sprintf("%d", cfg.Defaults.Cores))
		fmt.Println(dim.Render("  memory:   ") + fmt.Sprintf("%d MB", cfg.Defaults.MemoryMB))
		fmt.Println(dim.Render("  disk:     ") + fmt.Sprintf("%d GB", cfg.Defaults.DiskGB))
		fmt.Println(dim.Render("  template: ") + cfg.Defaults.Template)
		fmt.Println(cyan.Render("Network:"))
		fmt.Println(dim.Render("  lan:      ") + cfg.Network.LANSubnet)
		fmt.Println(dim.Render("  dhcp:     ") + fmt.Sprintf("%s - %s", cfg.Network.DHCPStart, cfg.Network.DHCPEnd))
		fmt.Println(dim.Render("  dns:      ") + cfg.Network.DNSDomain)
		fmt.Println(cyan.Render("Catalog:"))
		fmt.Println(dim.Render("  dir:      ") + cfg.Catalog.Dir)
		fmt.Println(dim.Render("config file: ") + configPath)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yml",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Println(green.Render("✓") + " wrote " + configPath)
		return nil
	},
}

var configHostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage registered Proxmox hosts",
}

var configHostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(config.DefaultDataDir + "/proximity.db")
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		hosts, err := st.ListHosts()
		if err != nil {
			return fmt.Errorf("listing hosts: %w", err)
		}
		if len(hosts) == 0 {
			fmt.Println(dim.Render("no hosts configured"))
			return nil
		}
		for _, h := range hosts {
			marker := " "
			if h.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  %s\n", marker, cyan.Render(h.Name), h.Endpoint, dim.Render(h.ID))
		}
		return nil
	},
}

var configHostAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Interactively register a Proxmox host",
	RunE: func(cmd *cobra.Command, args []string) error {
		var name, endpoint, tokenID, tokenSecret string
		verifyTLS := true
		isDefault := true

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Host name").Value(&name).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),
				huh.NewInput().Title("API endpoint").Placeholder("https://pve.example.lan:8006/api2/json").Value(&endpoint).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("endpoint is required")
						}
						return nil
					}),
				huh.NewInput().Title("API token ID").Placeholder("root@pam!proximity").Value(&tokenID),
				huh.NewInput().Title("API token secret").EchoMode(huh.EchoModePassword).Value(&tokenSecret),
				huh.NewConfirm().Title("Verify TLS certificate").Value(&verifyTLS),
				huh.NewConfirm().Title("Make this the default host").Value(&isDefault),
			),
		).WithTheme(huh.ThemeCatppuccin())

		if err := form.Run(); err != nil {
			return fmt.Errorf("running form: %w", err)
		}

		st, err := store.Open(config.DefaultDataDir + "/proximity.db")
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		cipher := secrets.New(mustSecret())
		encSecret, err := cipher.Encrypt(tokenSecret)
		if err != nil {
			return fmt.Errorf("encrypting token secret: %w", err)
		}

		if isDefault {
			existing, err := st.ListHosts()
			if err != nil {
				return fmt.Errorf("listing existing hosts: %w", err)
			}
			for _, h := range existing {
				if h.IsDefault {
					h.IsDefault = false
					if err := st.UpdateHost(h); err != nil {
						return fmt.Errorf("clearing previous default host: %w", err)
					}
				}
			}
		}

		host := &store.Host{
			ID: uuid.NewString(), Name: name, Endpoint: endpoint,
			TokenID: tokenID, TokenSecret: encSecret,
			VerifyTLS: verifyTLS, IsDefault: isDefault,
		}
		if err := st.CreateHost(host); err != nil {
			return fmt.Errorf("saving host: %w", err)
		}

		fmt.Println(green.Render("✓") + " registered host " + cyan.Render(name))
		return nil
	},
}

func mustSecret() string {
	if s := os.Getenv(config.SecretEnvVar); s != "" {
		return s
	}
	fmt.Fprintln(os.Stderr, "warning: "+config.SecretEnvVar+" is not set; a non-empty token secret cannot be encrypted and will be refused")
	return ""
}
