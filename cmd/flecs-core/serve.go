package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/api"
	"github.com/flecs-technologies/flecs-core/pkg/driver/containerd"
	"github.com/flecs-technologies/flecs-core/pkg/floxy"
	"github.com/flecs-technologies/flecs-core/pkg/log"
	"github.com/flecs-technologies/flecs-core/pkg/metrics"
	"github.com/flecs-technologies/flecs-core/pkg/quest"
	"github.com/flecs-technologies/flecs-core/pkg/sorcerer"
	"github.com/flecs-technologies/flecs-core/pkg/vault"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flecs-core HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		addr, _ := cmd.Flags().GetString("addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")

		v, err := vault.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open vault at %s: %w", dataDir, err)
		}

		drv, err := containerd.New(containerdSocket)
		if err != nil {
			return fmt.Errorf("connect to containerd at %s: %w", containerdSocket, err)
		}

		fx := floxy.New(floxy.Config{
			BasePath:    dataDir + "/floxy",
			InstanceDir: dataDir + "/floxy/instances",
			ServerDir:   dataDir + "/floxy/servers",
		})
		if err := fx.ClearServerConfigs(); err != nil {
			return fmt.Errorf("clear stale floxy server configs: %w", err)
		}
		if err := fx.ClearInstanceConfigs(); err != nil {
			return fmt.Errorf("clear stale floxy instance configs: %w", err)
		}

		quests := quest.Default()
		gcTicker := time.NewTicker(time.Minute)
		defer gcTicker.Stop()
		go func() {
			for now := range gcTicker.C {
				quests.GC(now)
			}
		}()
		collector := metrics.NewCollector(v, quests)
		collector.Start()
		defer collector.Stop()

		s := sorcerer.New(v, drv, fx, quests)
		server := api.New(s, quests)

		go runMetricsServer(metricsAddr)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(addr) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info(fmt.Sprintf("received signal %s, shutting down", sig))
			return nil
		}
	},
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("metrics server stopped", err)
	}
}

func init() {
	serveCmd.Flags().String("data-dir", "/var/lib/flecs-core", "Base directory for persisted apps/instances/floxy configs")
	serveCmd.Flags().String("addr", "127.0.0.1:9090", "Address the HTTP API listens on")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address the metrics/health endpoints listen on")
	serveCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
}
