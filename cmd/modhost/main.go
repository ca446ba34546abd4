// Command modhost loads the mods listed in its configuration and serves the
// remote-control protocol until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snowmerak/modhost/lib/config"
	"github.com/snowmerak/modhost/lib/discovery"
	"github.com/snowmerak/modhost/lib/logging"
	"github.com/snowmerak/modhost/lib/mod"
	"github.com/snowmerak/modhost/lib/mod/builtin"
	"github.com/snowmerak/modhost/lib/mod/native"
	"github.com/snowmerak/modhost/lib/mod/wasm"
	"github.com/snowmerak/modhost/lib/registry"
	"github.com/snowmerak/modhost/lib/remote"
	"github.com/snowmerak/modhost/lib/secret"
)

const loaderVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to the HCL configuration file (default: $MODHOST_CONFIG)")
	flag.Parse()

	if *configPath == "" {
		p, err := config.PathFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		*configPath = p
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := run(ctx, cfg); err != nil {
		logger.Error("modhost failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.FromContext(ctx)
	pid := os.Getpid()

	srvSecret, err := resolveSecret(cfg.Server)
	if err != nil {
		return err
	}

	srvOpts := remote.DefaultServerOptions()
	srvOpts.Port = cfg.Server.Port
	srvOpts.AllowExternal = cfg.Server.AllowExternal
	srvOpts.Secret = srvSecret
	srvOpts.LogRequests = cfg.Server.LogRequests
	srvOpts.DiscoveryDir = cfg.Server.DiscoveryDir
	srvOpts.PID = pid
	srvOpts.Resolver = cfg
	srvOpts.Logger = logger

	reg := registry.New(registryOptions(cfg, logger))

	srv, err := remote.NewServer(reg, srvOpts)
	if err != nil {
		return err
	}

	// Front-ends polling for this pid see "initializing" until the server binds.
	if err := discovery.Publish(cfg.Server.DiscoveryDir, pid, discovery.Record{Instance: srv.Instance()}); err != nil {
		logger.Warn("Failed to publish discovery record", "error", err)
	}

	for _, m := range cfg.Enabled() {
		if err := reg.Load(ctx, m.ID, m.Locator); err != nil {
			logger.Error("Failed to load mod", "mod", m.ID, "locator", m.Locator.String(), "error", err)
		}
	}

	if err := srv.Start(ctx); err != nil {
		discovery.Remove(cfg.Server.DiscoveryDir, pid)
		closeRegistry(reg, logger)
		return err
	}

	logger.Info("modhost ready", "pid", pid, "port", srv.Port(), "mods", len(reg.ListLoaded()))
	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close server: %w", err))
	}
	if err := reg.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close registry: %w", err))
	}
	return errors.Join(errs...)
}

func registryOptions(cfg *config.Config, logger *slog.Logger) *registry.Options {
	exe, _ := os.Executable()

	opts := registry.DefaultOptions()
	opts.Host = mod.HostInfo{
		AppID:         cfg.App.ID,
		AppName:       cfg.App.Name,
		Executable:    exe,
		LoaderVersion: loaderVersion,
	}
	opts.Logger = logger
	opts.Loaders[wasm.Kind] = wasm.NewLoader(wasm.WithLogger(logger), wasm.WithMetadata(cfg.Metadata))
	opts.Loaders[native.Kind] = native.NewLoader()
	opts.Loaders[builtin.Kind] = bundledCatalog()
	return opts
}

// resolveSecret prefers an explicit secret and falls back to the OS keyring
// item named by secret_key.
func resolveSecret(cfg config.Server) (string, error) {
	stores := []secret.Store{secret.Static(cfg.Secret)}
	if cfg.SecretKey != "" {
		ring, err := secret.OpenKeyring(secret.DefaultService, cfg.SecretKey)
		if err != nil {
			return "", fmt.Errorf("open keyring: %w", err)
		}
		stores = append(stores, ring)
	}

	s, err := secret.First(stores...)
	if errors.Is(err, secret.ErrNoSecret) {
		return "", nil
	}
	return s, err
}

func closeRegistry(reg *registry.Registry, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Close(ctx); err != nil {
		logger.Error("Failed to close registry", "error", err)
	}
}
