// Command server is the microsandbox control-plane process: it exposes the
// single JSON-RPC endpoint (C5), owns the sandbox registry (C4), and
// reconciles its durable state against reality at startup and on an
// interval thereafter.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensandbox/opensandbox/internal/auth"
	"github.com/opensandbox/opensandbox/internal/config"
	"github.com/opensandbox/opensandbox/internal/metrics"
	"github.com/opensandbox/opensandbox/internal/registry"
	"github.com/opensandbox/opensandbox/internal/rpcserver"
	"github.com/opensandbox/opensandbox/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("microsandbox: failed to load config: %v", err)
	}

	store, err := state.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("microsandbox: failed to open state store: %v", err)
	}
	defer store.Close()

	secret, err := auth.LoadOrCreateSecret(cfg.HMACSecretPath)
	if err != nil {
		log.Fatalf("microsandbox: failed to load HMAC secret: %v", err)
	}
	keys := auth.NewKeyStore(secret)

	reg := registry.New(registry.Options{
		DataDir:                cfg.DataDir,
		SupervisorBin:          cfg.SupervisorBin,
		FirecrackerBin:         cfg.FirecrackerBin,
		KernelPath:             cfg.KernelPath,
		PortalPort:             cfg.PortalPort,
		StartTimeoutSeconds:    cfg.StartTimeoutSeconds,
		StopGracePeriodSeconds: cfg.StopGracePeriodSeconds,
		DefaultMemoryMB:        cfg.DefaultSandboxMemoryMB,
		DefaultCPUs:            cfg.DefaultSandboxCPUs,
	}, store)

	collector := metrics.NewCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("microsandbox: reconciling state store against live supervisors...")
	if err := reg.Reconcile(ctx); err != nil {
		log.Printf("microsandbox: reconcile at boot failed: %v (continuing)", err)
	}

	reaperInterval := time.Duration(cfg.ReaperIntervalSeconds) * time.Second
	if reaperInterval <= 0 {
		reaperInterval = 15 * time.Second
	}
	go runReaper(ctx, reg, reaperInterval)

	srv := rpcserver.New(reg, keys, collector, cfg.DevMode)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("microsandbox: listening on %s (dev_mode=%v)", cfg.ListenAddr, cfg.DevMode)
	go func() {
		if err := srv.Echo().Start(cfg.ListenAddr); err != nil {
			log.Printf("microsandbox: server stopped: %v", err)
		}
	}()

	<-quit
	log.Println("microsandbox: shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Echo().Shutdown(shutdownCtx); err != nil {
		log.Printf("microsandbox: error closing server: %v", err)
	}
}

// runReaper periodically re-runs Reconcile so a sandbox whose supervisor
// dies out-of-band (not via a clean Stop) is marked failed and its orphan
// rootfs upper reclaimed, without waiting for the next process restart.
func runReaper(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.Reconcile(ctx); err != nil {
				log.Printf("microsandbox: periodic reconcile failed: %v", err)
			}
		}
	}
}
