package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fhirdoc/internal/blob"
	"fhirdoc/internal/config"
	"fhirdoc/internal/core"
	"fhirdoc/internal/hook"
	"fhirdoc/internal/observability"
	"fhirdoc/internal/platform/logger"
	"fhirdoc/internal/refs"
	"fhirdoc/pkg/domain"
)

// app holds the wired runtime shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   domain.RecordStore
	hooks   *hook.Registry
	service *core.Service
	metrics *observability.Metrics

	shutdownTracing observability.ShutdownFunc
}

// newApp wires storage, the archive, the observer hub, the assembler and the
// service from cfg.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	shutdown, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: appName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	store, err := core.OpenRecordStore(ctx, core.StorageConfig{
		Driver:          core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:      cfg.Storage.SQLitePath,
		PostgresDSN:     cfg.Storage.PostgresDSN,
		RedisAddr:       cfg.Cache.RedisAddr,
		CacheTTL:        cfg.Cache.TTL,
		CacheWriteGuard: cfg.Cache.WriteGuard,
	}, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open record store: %w", err)
	}

	archiveStore, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Archive.Driver),
		FSRoot: cfg.Archive.FSRoot,
		S3: blob.S3Config{
			Bucket:    cfg.Archive.S3.Bucket,
			Region:    cfg.Archive.S3.Region,
			Endpoint:  cfg.Archive.S3.Endpoint,
			PathStyle: cfg.Archive.S3.PathStyle,
		},
	})
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open document archive: %w", err)
	}

	hooks, err := buildHooks(cfg.Hooks, log)
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	extractor, err := refs.New(refs.Mode(cfg.Assembly.ReferenceMode))
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	assembler := core.NewAssembler(store, extractor, hooks,
		core.WithLogger(log),
		core.WithMetrics(metrics),
		core.WithFetchConcurrency(cfg.Assembly.FetchConcurrency),
		core.WithMaxRecords(cfg.Assembly.MaxRecords),
	)
	opts := []core.ServiceOption{core.WithServiceLogger(log), core.WithBaseURL(cfg.Server.BaseURL)}
	if archiveStore != nil {
		opts = append(opts, core.WithArchive(core.NewDocumentArchive(archiveStore)))
	}

	log.Info("fhirdoc wired",
		"storage", cfg.Storage.Driver,
		"cache", cfg.Cache.RedisAddr != "",
		"archive", cfg.Archive.Driver,
		"reference_mode", cfg.Assembly.ReferenceMode,
		"observers", hooks.Len(hook.ResourceMayBeReturned),
	)
	return &app{
		cfg:             cfg,
		log:             log,
		store:           store,
		hooks:           hooks,
		service:         core.NewService(store, assembler, opts...),
		metrics:         metrics,
		shutdownTracing: shutdown,
	}, nil
}

func buildHooks(cfg config.HooksConfig, log *logger.Logger) (*hook.Registry, error) {
	hooks := hook.NewRegistry()
	if cfg.Audit {
		if _, err := hooks.Register(hook.ResourceMayBeReturned, hook.NewAuditLog(log)); err != nil {
			return nil, err
		}
	}
	if len(cfg.SuppressTypes) > 0 {
		if _, err := hooks.Register(hook.ResourceMayBeReturned, hook.NewTypeFilter(cfg.SuppressTypes...)); err != nil {
			return nil, err
		}
	}
	return hooks, nil
}

// Close releases the store and flushes traces.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Join(a.store.Close(), a.shutdownTracing(ctx))
}
