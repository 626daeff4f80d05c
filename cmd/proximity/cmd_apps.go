package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/store"
)

var (
	appsConfigPath string
	appsDataDir    string
)

func init() {
	appsCmd.PersistentFlags().StringVar(&appsConfigPath, "config", config.DefaultConfigPath, "path to config file")
	appsCmd.PersistentFlags().StringVar(&appsDataDir, "data-dir", config.DefaultDataDir, "path to data directory")
	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsShowCmd)
	appsCmd.AddCommand(appsActionCmd)
	appsCmd.AddCommand(appsCloneCmd)
	appsCmd.AddCommand(appsBackupCmd)
	appsBackupCmd.AddCommand(appsBackupCreateCmd)
	appsBackupCmd.AddCommand(appsBackupRestoreCmd)
	rootCmd.AddCommand(appsCmd)
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage deployed apps",
}

func openDeployment() (*deployment, func(), error) {
	cfg, err := config.Load(appsConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return bootstrap(cfg, appsDataDir)
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all deployed apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		dep, closeFn, err := openDeployment()
		if err != nil {
			return err
		}
		defer closeFn()

		apps, err := dep.store.ListApps("")
		if err != nil {
			return fmt.Errorf("listing apps: %w", err)
		}
		if len(apps) == 0 {
			fmt.Println(dim.Render("no apps deployed"))
			return nil
		}
		fmt.Printf("%-12s %-20s %-10s %-16s %s\n", "ID", "HOSTNAME", "STATUS", "IP", "CATALOG")
		for _, a := range apps {
			fmt.Printf("%-12s %-20s %-10s %-16s %s\n", shortID(a.ID), a.Hostname, statusColor(a.Status), a.IP, a.CatalogID)
		}
		return nil
	},
}

var appsShowCmd = &cobra.Command{
	Use:   "show <app-id>",
	Short: "Show details for a single app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dep, closeFn, err := openDeployment()
		if err != nil {
			return err
		}
		defer closeFn()

		app, err := dep.store.GetApp(args[0])
		if err != nil {
			return fmt.Errorf("app not found: %w", err)
		}
		fmt.Println(cyan.Render("ID:       ") + app.ID)
		fmt.Println(cyan.Render("Hostname: ") + app.Hostname)
		fmt.Println(cyan.Render("Status:   ") + statusColor(app.Status))
		if app.StatusReason != "" {
			fmt.Println(cyan.Render("Reason:   ") + app.StatusReason)
		}
		fmt.Println(cyan.Render("Catalog:  ") + app.CatalogID)
		fmt.Println(cyan.Render("Host:     ") + app.HostID + " / " + app.NodeName)
		fmt.Println(cyan.Render("VMID:     ") + fmt.Sprintf("%d", app.VMID))
		fmt.Println(cyan.Render("IP:       ") + app.IP)
		fmt.Println(cyan.Render("Resources:") + fmt.Sprintf(" %d cores, %d MB RAM, %d GB disk", app.Resources.Cores, app.Resources.MemoryMB, app.Resources.DiskGB))
		return nil
	},
}

var appsActionCmd = &cobra.Command{
	Use:   "action <app-id> <start|stop|restart|delete>",
	Short: "Run a lifecycle action against an app",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dep, closeFn, err := openDeployment()
		if err != nil {
			return err
		}
		defer closeFn()

		appID, action := args[0], args[1]
		ctx := context.Background()

		if action == "delete" {
			if _, err := dep.lifecycle.Delete(ctx, appID, store.DeletePolicyRetain); err != nil {
				return fmt.Errorf("deleting app: %w", err)
			}
			fmt.Println(green.Render("✓") + " deleted " + appID)
			return nil
		}

		app, err := dep.lifecycle.Action(ctx, appID, action)
		if err != nil {
			return fmt.Errorf("running %s: %w", action, err)
		}
		fmt.Println(green.Render("✓") + " " + app.Hostname + " is now " + statusColor(app.Status))
		return nil
	},
}

var appsCloneCmd = &cobra.Command{
	Use:   "clone <app-id> <new-hostname>",
	Short: "Clone an app to a new hostname",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dep, closeFn, err := openDeployment()
		if err != nil {
			return err
		}
		defer closeFn()

		app, err := dep.lifecycle.Clone(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("cloning app: %w", err)
		}
		fmt.Println(green.Render("✓") + " cloned to " + app.Hostname + " (" + app.ID + ")")
		return watchProgress(dep, app.ID)
	},
}

var appsBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage app backups",
}

var appsBackupCreateCmd = &cobra.Command{
	Use:   "create <app-id>",
	Short: "Create a backup of an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dep, closeFn, err := openDeployment()
		if err != nil {
			return err
		}
		defer closeFn()

		b, err := dep.lifecycle.Backup(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
		fmt.Println(green.Render("✓") + " backup " + b.ID + " created")
		return nil
	},
}

var appsBackupRestoreCmd = &cobra.Command{
	Use:   "restore <app-id> <backup-id>",
	Short: "Restore an app from a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dep, closeFn, err := openDeployment()
		if err != nil {
			return err
		}
		defer closeFn()

		app, err := dep.lifecycle.Restore(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("restoring backup: %w", err)
		}
		fmt.Println(green.Render("✓") + " restored " + app.Hostname)
		return nil
	},
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func statusColor(status string) string {
	switch status {
	case store.StatusRunning:
		return green.Render(status)
	case store.StatusError:
		return lipglossRed.Render(status)
	default:
		return dim.Render(status)
	}
}
