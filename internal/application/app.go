// Package application wires configuration into a ready staging service.
// Both the HTTP server and the command line runner start from here.
package application

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keboola/platform-libraries-sub003/internal/config"
	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/database"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
	"github.com/keboola/platform-libraries-sub003/internal/manifest"
	"github.com/keboola/platform-libraries-sub003/internal/storageapi"
)

// App holds the wired service and the resources it owns.
type App struct {
	Config  *config.Config
	Service *core.Service
	Storage *storageapi.Client
	Branch  core.BranchContext
	Backend core.Backend

	pool *pgxpool.Pool
}

// New connects to the storage API, the optional history database and the
// manifest sink, and builds the service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)

	storage, err := storageapi.New(storageapi.Config{
		BaseURL:         cfg.Storage.URL,
		Token:           cfg.Storage.Token,
		Timeout:         cfg.Storage.RequestTimeout,
		MaxRetries:      cfg.Storage.MaxRetries,
		RateLimit:       cfg.Storage.RateLimit,
		RateBurst:       cfg.Storage.RateBurst,
		PollInterval:    cfg.Storage.PollInterval,
		MaxPollInterval: cfg.Storage.MaxPollInterval,
	})
	if err != nil {
		return nil, err
	}

	branch, projectID, err := resolveBranch(ctx, cfg.Storage, storage)
	if err != nil {
		return nil, err
	}
	logger.Info("storage API ready",
		"url", cfg.Storage.URL,
		"project_id", projectID,
		"branch_id", branch.EffectiveBranchID(),
		"branch_mode", string(branch.Mode),
	)

	backend, err := core.ParseBackend(cfg.Staging.WorkspaceBackend)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Storage: storage, Branch: branch, Backend: backend}

	var history core.HistoryStore
	if cfg.Database.URL != "" {
		pool, err := openPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.pool = pool
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		history = database.NewHistoryStore(pool)
		logger.Info("run history in database", "name", databaseName(cfg.Database.URL))
	} else {
		logger.Info("run history in memory")
	}

	manifests, err := NewManifestWriter(ctx, cfg.Manifest, cfg.Storage.URL)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Service = core.NewService(storage, manifests, history, core.Options{
		MetadataConcurrency: cfg.Staging.MetadataConcurrency,
		MaxConcurrent:       cfg.Staging.MaxConcurrent,
		MaxWait:             cfg.Staging.MaxWaitTime,
		DefaultTimeout:      cfg.Staging.Timeout,
		ProjectID:           projectID,
	})
	return app, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// PurgeConfig returns the history purge settings.
func (a *App) PurgeConfig() core.PurgeConfig {
	return core.PurgeConfig{
		Retention:     a.Config.History.Retention,
		CheckInterval: a.Config.History.CheckInterval,
	}
}

// branchLookup is the part of the storage client used to fill in branch settings.
type branchLookup interface {
	VerifyToken(ctx context.Context) (string, error)
	DefaultBranchID(ctx context.Context) (string, error)
}

// resolveBranch builds the branch context, asking the API for the project
// and default branch ids the configuration leaves out.
func resolveBranch(ctx context.Context, cfg config.StorageConfig, api branchLookup) (core.BranchContext, string, error) {
	projectID := cfg.ProjectID
	if projectID == "" {
		id, err := api.VerifyToken(ctx)
		if err != nil {
			return core.BranchContext{}, "", err
		}
		projectID = id
	}

	defaultBranchID := cfg.DefaultBranchID
	if defaultBranchID == "" {
		id, err := api.DefaultBranchID(ctx)
		if err != nil {
			return core.BranchContext{}, "", err
		}
		defaultBranchID = id
	}

	mode, err := core.ParseBranchStorageMode(cfg.BranchMode)
	if err != nil {
		return core.BranchContext{}, "", err
	}
	branch, err := core.NewBranchContext(cfg.BranchID, cfg.BranchName, defaultBranchID, mode)
	if err != nil {
		return core.BranchContext{}, "", err
	}
	return branch, projectID, nil
}

// NewManifestWriter returns the object store writer when a bucket is
// configured and the local file writer otherwise.
func NewManifestWriter(ctx context.Context, cfg config.ManifestConfig, uriBase string) (core.ManifestWriter, error) {
	format, err := manifest.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if !cfg.UseObjectStore() {
		w, err := manifest.NewFileWriter(cfg.Dir, format, uriBase)
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	store, err := manifest.NewS3Store(manifest.S3Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx, cfg.Bucket); err != nil {
		return nil, err
	}
	return manifest.NewObjectWriter(store, cfg.Bucket, cfg.Prefix, format, uriBase), nil
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func databaseName(dsn string) string {
	if u, err := url.Parse(dsn); err == nil {
		return strings.TrimPrefix(u.Path, "/")
	}
	return ""
}
