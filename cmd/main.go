package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/assetflow/assetflow/internal/assets"
	"github.com/assetflow/assetflow/internal/assets/pipeline"
	"github.com/assetflow/assetflow/internal/assets/version"
	"github.com/assetflow/assetflow/internal/config"
	"github.com/assetflow/assetflow/internal/logging"
	"github.com/assetflow/assetflow/internal/metrics"
	"github.com/assetflow/assetflow/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "ASSETFLOW", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	pipe, err := buildPipeline(logger, cfg.Assets)
	if err != nil {
		logger.Error("pipeline setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	versionStore := buildVersionStore(logger.With(slog.String("component", "version_factory")), cfg.Versioning)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := versionStore.Close(closeCtx); err != nil {
			logger.Error("version store shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	manager, err := assets.NewManager(assets.Options{
		BasePath: cfg.Assets.BasePath,
		Logger:   logger,
		Metrics:  metricsRecorder,
		Versions: versionStore,
		Pipeline: pipe,
	})
	if err != nil {
		logger.Error("manager setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	for assetType, limit := range cfg.Assets.CacheLimits {
		if err := manager.SetCacheSizeLimit(assetType, limit); err != nil {
			logger.Error("cache limit rejected",
				slog.String("type", assetType),
				slog.Any("error", err))
			os.Exit(1)
		}
	}
	for _, kind := range cfg.Assets.Compression {
		if err := manager.EnableCompression(kind); err != nil {
			logger.Error("compression kind rejected",
				slog.String("kind", kind),
				slog.Any("error", err))
			os.Exit(1)
		}
	}

	if cfg.Remote.CDNBase != "" || cfg.Remote.URLTemplate != "" {
		remote := manager.NewRemoteLoader()
		remote.SetCDNBase(cfg.Remote.CDNBase)
		remote.EnableCaching(cfg.Remote.CachingEnabled)
		remote.SetTimeout(time.Duration(cfg.Remote.TimeoutSeconds) * time.Second)
		if err := remote.SetURLTemplate(cfg.Remote.URLTemplate); err != nil {
			logger.Error("url template rejected", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if cfg.Assets.Watch {
		watcher, err := manager.WatchAssets(ctx, func(err error) {
			logger.Error("asset watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("asset watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	if manifest := strings.TrimSpace(cfg.Preload.Manifest); manifest != "" {
		entries, err := assets.LoadManifest(manifest)
		if err != nil {
			logger.Error("preload manifest rejected",
				slog.String("manifest", manifest),
				slog.Any("error", err))
			os.Exit(1)
		}
		preloader := manager.NewPreloader()
		preloader.AddAll(entries)
		preloader.OnComplete(func() {
			logger.Info("preload complete",
				slog.Int("succeeded", preloader.Succeeded()),
				slog.Int("failed", len(preloader.Failed())))
		})
		preloader.Start()
	}

	handler := server.NewHandler(manager, metricsRecorder)
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}
	// Tear the manager down only after the listener drains so in-flight
	// statistics requests see a live cache.
	srv.OnShutdown(manager.Cleanup)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildPipeline(logger *slog.Logger, cfg config.AssetsConfig) (*pipeline.Pipeline, error) {
	pipe, err := pipeline.New(logger)
	if err != nil {
		return nil, err
	}
	for _, validator := range cfg.Validators {
		expression := validator.Expression
		// Scope the predicate to its asset type; "*" and empty apply everywhere.
		if t := strings.TrimSpace(validator.Type); t != "" && t != "*" {
			expression = fmt.Sprintf("type != %q || (%s)", t, expression)
		}
		if err := pipe.AddValidatorExpr(expression); err != nil {
			return nil, err
		}
	}
	return pipe, nil
}

func buildVersionStore(logger *slog.Logger, cfg config.VersioningConfig) version.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory version store")
		return version.NewMemory()
	case "valkey":
		store, err := version.NewValkey(version.ValkeyConfig{
			Address:   cfg.Valkey.Address,
			Username:  cfg.Valkey.Username,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			TLS: version.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey version store initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory version store")
			return version.NewMemory()
		}
		logger.Info("using valkey version store", slog.String("address", cfg.Valkey.Address))
		return store
	default:
		logger.Warn("unsupported versioning backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return version.NewMemory()
	}
}
