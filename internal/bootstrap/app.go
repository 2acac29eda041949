package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"

	"youposm/internal/queue"
	"youposm/internal/rows"
	"youposm/internal/shared/cache"
	"youposm/internal/shared/config"
	"youposm/internal/shared/retry"
	"youposm/internal/shared/server"
	"youposm/internal/shared/storage/db"
	"youposm/internal/shared/storage/object"
	gcsstore "youposm/internal/shared/storage/object/gcs"
	localstore "youposm/internal/shared/storage/object/local"
	s3store "youposm/internal/shared/storage/object/s3"
	"youposm/internal/submissions"
)

const (
	headerCheckTimeout = 15 * time.Second
	redisKeyPrefix     = "posm:"
)

// App holds shared dependencies.
type App struct {
	Config            config.Config
	Router            *gin.Engine
	DB                *sql.DB
	Blobs             object.BlobStore
	Rows              rows.Store
	Cache             cache.Cache
	OptionsCache      *submissions.OptionsCache
	SubmissionService *submissions.Service
	SubmissionHandler *submissions.Handler
	Events            queue.Client

	closers []func() error
}

// Build prepares dependencies from cfg and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if strings.TrimSpace(cfg.RowStoreType) == "" {
		cfg.RowStoreType = "memory"
	}
	ctx := context.Background()
	app := &App{Config: cfg}

	blobs, err := app.OpenBlobStore(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	rs, err := app.OpenRowStore(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	ensureHeader(ctx, rs)

	app.Cache = app.buildCache(ctx)
	app.OptionsCache = submissions.NewOptionsCache(rs, app.Cache, cfg.OptionsCacheTTL)

	events, err := app.buildEvents(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.SubmissionService = &submissions.Service{
		Blobs:   blobs,
		Rows:    rs,
		Keys:    submissions.NewKeyDeriver(nil),
		Options: app.OptionsCache,
		Validator: submissions.Validator{
			MaxImageBytes: cfg.MaxImageBytes,
			Location:      cfg.Location(),
		},
		Optimizer: submissions.Optimizer{
			MaxWidth: cfg.MaxImageWidth,
			Format:   cfg.ImageFormat,
		},
		Retry:          retry.DefaultPolicy(cfg.StoreRetryAttempts),
		WriteTimeout:   cfg.BlobWriteTimeout,
		CleanupOrphans: cfg.CleanupOrphans,
		Events:         events,
	}
	app.SubmissionHandler = submissions.NewHandler(app.SubmissionService)
	app.SubmissionHandler.MaxRequestBytes = cfg.MaxRequestBytes

	deps := server.RouterDeps{
		Config:            cfg,
		SubmissionHandler: app.SubmissionHandler,
		Health: func() gin.H {
			return gin.H{
				"objectStore": app.Config.ObjectStoreType,
				"rowStore":    app.Config.RowStoreType,
				"cache":       app.Config.CacheBackend,
				"events":      eventsBackend(app.Events),
			}
		},
	}
	if local, ok := blobs.(*localstore.Store); ok {
		deps.MediaDir = local.BaseDir()
	}
	app.Router = server.NewRouter(deps)

	return app, nil
}

// Close releases clients opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenBlobStore builds the configured blob store and records it on a.
func (a *App) OpenBlobStore(ctx context.Context) (object.BlobStore, error) {
	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Blobs = blobs
	return blobs, nil
}

func (a *App) openBlobStore(ctx context.Context) (object.BlobStore, error) {
	cfg := a.Config
	switch cfg.ObjectStoreType {
	case "gcs":
		if strings.TrimSpace(cfg.GCSBucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=gcs requires GCS_BUCKET_NAME")
		}
		opts, err := GoogleClientOptions(ctx, cfg.GoogleCredentials, storage.ScopeFullControl)
		if err != nil {
			return nil, err
		}
		store, err := gcsstore.New(ctx, gcsstore.Options{
			Bucket:     cfg.GCSBucket,
			Prefix:     cfg.ObjectPrefix,
			URLMode:    cfg.GCSURLMode,
			MakePublic: cfg.GCSMakePublic,
		}, opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "s3":
		if strings.TrimSpace(cfg.AWSRegion) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires AWS_REGION and S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.ObjectPrefix, cfg.S3URLMode)
	default:
		return localstore.New(cfg.LocalStoreDir, cfg.ObjectPrefix, cfg.PublicBaseURL), nil
	}
}

// OpenRowStore builds the configured row store and records it on a. It does
// not touch the header row.
func (a *App) OpenRowStore(ctx context.Context) (rows.Store, error) {
	rs, err := a.openRowStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Rows = rs
	return rs, nil
}

func (a *App) openRowStore(ctx context.Context) (rows.Store, error) {
	cfg := a.Config
	switch cfg.RowStoreType {
	case "sheets":
		if strings.TrimSpace(cfg.SheetID) == "" {
			return nil, fmt.Errorf("ROW_STORE=sheets requires SHEET_ID")
		}
		opts, err := GoogleClientOptions(ctx, cfg.GoogleCredentials, rows.SheetsScope)
		if err != nil {
			return nil, err
		}
		return rows.NewSheetsStore(ctx, cfg.SheetID, cfg.SheetName, opts...)
	case "postgres":
		sqlDB, err := a.buildDB(ctx)
		if err != nil {
			return nil, err
		}
		if sqlDB == nil {
			a.Config.RowStoreType = "memory"
			return rows.NewMemoryStore(), nil
		}
		return &rows.PGStore{DB: sqlDB}, nil
	default:
		return rows.NewMemoryStore(), nil
	}
}

func (a *App) buildDB(ctx context.Context) (*sql.DB, error) {
	cfg := a.Config
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory rows")
			return nil, nil
		}
		return nil, fmt.Errorf("ROW_STORE=postgres requires DATABASE_URL")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err == nil {
		err = db.RunMigrations(ctx, sqlDB)
		if err != nil {
			_ = sqlDB.Close()
		}
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database unavailable; using in-memory rows: %v", err)
			return nil, nil
		}
		return nil, err
	}

	a.DB = sqlDB
	a.closers = append(a.closers, sqlDB.Close)
	return sqlDB, nil
}

func (a *App) buildCache(ctx context.Context) cache.Cache {
	cfg := a.Config
	if cfg.CacheBackend == "redis" {
		rc, err := cache.DialRedis(ctx, cfg.RedisAddr, redisKeyPrefix)
		if err == nil {
			a.closers = append(a.closers, rc.Close)
			return rc
		}
		log.Printf("bootstrap: redis unavailable; using in-process options cache: %v", err)
		a.Config.CacheBackend = "memory"
	}
	return cache.NewMemory(nil)
}

// buildEvents returns nil when no submission queue is configured.
func (a *App) buildEvents(ctx context.Context) (queue.Client, error) {
	if a.Config.SubmissionQueueURL == "" {
		return nil, nil
	}
	client, err := queue.NewSQSClient(ctx, a.Config.AWSRegion, a.Config.SubmissionQueueURL)
	if err != nil {
		return nil, fmt.Errorf("submission queue: %w", err)
	}
	a.Events = client
	return client, nil
}

// ensureHeader writes the header row if missing. Failures are logged so the
// server still starts while the row store is briefly unreachable.
func ensureHeader(ctx context.Context, rs rows.Store) {
	hctx, cancel := context.WithTimeout(ctx, headerCheckTimeout)
	defer cancel()
	if err := rs.EnsureHeader(hctx); err != nil {
		log.Printf("bootstrap: ensure header row failed: %v", err)
	}
}

func eventsBackend(c queue.Client) string {
	if c == nil {
		return "none"
	}
	return "sqs"
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
