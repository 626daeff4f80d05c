package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/pipeline"
)

var (
	deployConfigPath string
	deployDataDir    string
)

func init() {
	deployCmd.Flags().StringVar(&deployConfigPath, "config", config.DefaultConfigPath, "path to config file")
	deployCmd.Flags().StringVar(&deployDataDir, "data-dir", config.DefaultDataDir, "path to data directory")
	rootCmd.AddCommand(deployCmd)
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Interactively deploy a catalog app",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(deployConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		dep, closeFn, err := bootstrap(cfg, deployDataDir)
		if err != nil {
			return err
		}
		defer closeFn()

		apps := dep.catalog.List()
		if len(apps) == 0 {
			return fmt.Errorf("catalog at %s has no apps", cfg.Catalog.Dir)
		}
		opts := make([]huh.Option[string], 0, len(apps))
		for _, a := range apps {
			opts = append(opts, huh.NewOption(fmt.Sprintf("%s — %s", a.Name, a.Description), a.ID))
		}

		host, err := dep.store.GetDefaultHost()
		if err != nil {
			return fmt.Errorf("no default host configured — run `proximity config host add` first: %w", err)
		}

		var catalogID, hostname string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().Title("App").Options(opts...).Value(&catalogID),
				huh.NewInput().Title("Hostname").Placeholder("my-app").Value(&hostname).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("hostname is required")
						}
						return nil
					}),
			),
		).WithTheme(huh.ThemeCatppuccin())

		if err := form.Run(); err != nil {
			return fmt.Errorf("running form: %w", err)
		}

		ctx := context.Background()
		app, err := dep.pipeline.Deploy(ctx, pipeline.DeployRequest{
			CatalogID: catalogID,
			HostID:    host.ID,
			Hostname:  hostname,
		})
		if err != nil {
			return fmt.Errorf("starting deploy: %w", err)
		}

		fmt.Println(cyan.Render("Deploying ") + hostname + cyan.Render("..."))
		return watchProgress(dep, app.ID)
	},
}

var (
	barFilled = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barEmpty  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// watchProgress subscribes to the Deployment Pipeline's events and renders
// a lipgloss progress bar until the App reaches a terminal step or
// deployTimeout has elapsed since the call began.
func watchProgress(dep *deployment, appID string) error {
	ch, cancel := dep.events.Subscribe(appID)
	defer cancel()

	const deployTimeout = 10 * time.Minute
	timeout := time.NewTimer(deployTimeout)
	defer timeout.Stop()

	for {
		select {
		case progress, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Printf("\r%s %3d%%  %-20s %s", renderBar(progress.Percent), progress.Percent, progress.Step, progress.Message)
			if progress.Percent >= 100 || progress.Step == "rollback" {
				fmt.Println()
				if progress.Step == "rollback" {
					return fmt.Errorf("deploy failed: %s", progress.Message)
				}
				return nil
			}
		case <-timeout.C:
			fmt.Println()
			return fmt.Errorf("timed out waiting for deploy progress")
		}
	}
}

func renderBar(percent int) string {
	const width = 24
	filled := width * percent / 100
	if filled > width {
		filled = width
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += barFilled.Render("█")
		} else {
			bar += barEmpty.Render("░")
		}
	}
	return bar
}
