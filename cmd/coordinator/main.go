// Command coordinator runs the phase1 trusted-setup ceremony
// coordinator: it serves the contributor-facing REST API, the public
// audit endpoint, and the bearer-token-gated admin endpoints, while
// driving the queue-tick and verification-sweep background services.
//
// Usage:
//
//	coordinator --config ceremony.yaml run
//	coordinator --config ceremony.yaml init
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trusted-setup/phase1-coordinator/api"
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/coordinator"
	clog "github.com/trusted-setup/phase1-coordinator/log"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "coordinator",
		Usage:   "run the phase1 trusted-setup ceremony coordinator",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the ceremony environment YAML config",
				Value:   "ceremony.yaml",
			},
		},
		Commands: []*cli.Command{
			runCommand,
			initCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "write a default ceremony environment config to --config",
	Action: func(c *cli.Context) error {
		path := c.String("config")
		cfg := coordinator.DefaultConfig()
		return writeDefaultConfig(path, cfg)
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "open storage, start background services, and serve the REST API",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "verifier", Usage: "the coordinator's own verifier public key"},
	},
	Action: func(c *cli.Context) error {
		return runCoordinator(c.String("config"), c.String("verifier"))
	},
}

func runCoordinator(configPath, verifierKey string) error {
	log := clog.Default().Module("cmd")

	cfg, err := coordinator.LoadEnvironment(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info("starting coordinator",
		"version", version,
		"data_dir", cfg.DataDir,
		"number_of_chunks", cfg.Round.NumberOfChunks,
		"addr", cfg.HTTP.Addr,
	)

	coord, err := coordinator.Open(cfg)
	if err != nil {
		return fmt.Errorf("open coordinator: %w", err)
	}

	verifier := ceremony.Verifier(verifierKey)
	if verifierKey == "" && len(cfg.Round.Verifiers) > 0 {
		verifier = ceremony.Verifier(cfg.Round.Verifiers[0])
	}

	if err := coord.StartServices(verifier); err != nil {
		coord.Close()
		return fmt.Errorf("start services: %w", err)
	}

	server := api.NewServer(coord, cfg.HTTP.AdminToken, verifier)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("http server failed", "err", err)
		coord.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http shutdown error", "err", err)
	}
	if err := coord.Close(); err != nil {
		return fmt.Errorf("close coordinator: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func writeDefaultConfig(path string, cfg coordinator.Config) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, defaultConfigTemplate,
		cfg.DataDir,
		cfg.Round.NumberOfChunks,
		cfg.Storage.BlobCacheBytes,
		cfg.Queue.PerIPCapacity,
		cfg.Queue.MaxEvictions,
		cfg.Timeouts.HeartbeatSeconds,
		cfg.Timeouts.UpdateSeconds,
		cfg.Timeouts.OfflineWindowMin,
		cfg.HTTP.Addr,
		cfg.LogLevel,
	)
	return err
}

const defaultConfigTemplate = `data_dir: %s

round:
  number_of_chunks: %d
  contributors: []
  verifiers: []
  chunk_verifiers: []

storage:
  blob_cache_bytes: %d

queue:
  per_ip_capacity: %d
  max_evictions: %d
  allow_dropouts: false

timeouts:
  heartbeat_seconds: %d
  update_seconds: %d
  offline_window_minutes: %d

http:
  addr: %q
  admin_token: ""

log_level: %s
`
