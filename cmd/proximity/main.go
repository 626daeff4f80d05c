package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/proximityhq/proximity/internal/version"
)

var (
	green       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	cyan        = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dim         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	lipglossRed = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

var rootCmd = &cobra.Command{
	Use:     "proximity",
	Short:   "Proximity — turns a Proxmox VE cluster into an app store",
	Version: version.Version,
}

func init() {
	rootCmd.Long = green.Render("Proximity") + " " + cyan.Render(version.Version) + "\n" +
		dim.Render("Catalog-driven LXC provisioning, a managed private LAN, and full lifecycle management for a Proxmox VE cluster.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
