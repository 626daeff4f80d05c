package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/reconciler"
	"github.com/proximityhq/proximity/internal/server"
)

var (
	serveConfigPath string
	serveDataDir    string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath, "path to config file")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", config.DefaultDataDir, "path to data directory")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Proximity control plane service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Printf("Proximity starting...\n")
		fmt.Printf("  listen:  %s:%d\n", cfg.Service.BindAddress, cfg.Service.Port)
		fmt.Printf("  catalog: %s\n", cfg.Catalog.Dir)
		fmt.Printf("  auth:    %s\n", cfg.Auth.Mode)

		dep, closeFn, err := bootstrap(cfg, serveDataDir)
		if err != nil {
			return err
		}
		defer closeFn()
		fmt.Printf("  apps:    %d catalog entries loaded\n", dep.catalog.Count())

		rec := reconciler.New(dep.store, dep.proxmox, cfg)
		recCtx, recCancel := context.WithCancel(context.Background())
		defer recCancel()
		go rec.Run(recCtx)

		srv := server.New(server.Deps{
			Config:    cfg,
			Store:     dep.store,
			Catalog:   dep.catalog,
			Lifecycle: dep.lifecycle,
			Pipeline:  dep.pipeline,
			Appliance: dep.appliance,
			IPAM:      dep.ipam,
			Events:    dep.events,
			Proxmox:   dep.proxmox,
			Cipher:    dep.cipher,
		})

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			fmt.Printf("\nListening on http://%s\n", srv.Addr())
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "server error: %v\n", err)
				os.Exit(1)
			}
		}()

		<-sig
		fmt.Println("\nShutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}
