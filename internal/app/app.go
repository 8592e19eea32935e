// Package app wires configuration into the runtime dependencies shared by
// the HTTP server and the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/smart-import/internal/advisory"
	"github.com/ignite/smart-import/internal/config"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/importer"
	"github.com/ignite/smart-import/internal/pkg/awsutil"
	"github.com/ignite/smart-import/internal/pkg/distlock"
	"github.com/ignite/smart-import/internal/pkg/logger"
	"github.com/ignite/smart-import/internal/session"
	"github.com/ignite/smart-import/internal/source"
	"github.com/ignite/smart-import/internal/storage"
)

// lockTTL bounds how long a crashed request can hold an import.
const lockTTL = 5 * time.Minute

// App holds the wired dependencies. DB, Redis, S3 and Objects are nil when
// the matching section is not configured.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	S3      *s3.Client
	Store   storage.RecordStore
	Objects *source.S3Loader
	Service *importer.Service
}

// ApplyLogging configures the default logger from cfg.
func ApplyLogging(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.Redact())
}

// Build connects every configured backend. Redis is optional: when it
// cannot be reached sessions and locks fall back to the database or the
// process.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	ApplyLogging(cfg.Logging)
	a := &App{Config: cfg}

	switch cfg.Storage.Type {
	case "postgres":
		db, err := storage.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = storage.NewPostgresStore(db)
		logger.Info("record store ready", "type", "postgres")
	case "snowflake":
		sf := cfg.Storage.Snowflake
		db, err := storage.OpenSnowflake(ctx, storage.SnowflakeConfig{
			Account:   sf.Account,
			User:      sf.User,
			Password:  sf.Password,
			Database:  sf.Database,
			Schema:    sf.Schema,
			Warehouse: sf.Warehouse,
		})
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = storage.NewSnowflakeStore(db)
		logger.Info("record store ready", "type", "snowflake", "database", sf.Database, "schema", sf.Schema)
	default:
		a.Store = storage.NewMemoryStore()
		logger.Warn("record store is in memory; committed records are lost on exit")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using local sessions", "addr", cfg.Redis.Addr, "error", err)
			client.Close()
		} else {
			a.Redis = client
		}
	}

	var sessions session.Store = session.NewMemoryStore()
	if a.Redis != nil {
		sessions = session.NewRedisStore(a.Redis)
	}

	advisor, err := advisory.New(ctx, cfg.Advisory, cfg.S3.GetAWSProfile())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("advisory: %w", err)
	}

	if cfg.S3.Bucket != "" {
		awsCfg, err := awsutil.Load(ctx, cfg.S3.Region, cfg.S3.GetAWSProfile())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.S3 = s3.NewFromConfig(awsCfg)
		a.Objects = source.NewS3Loader(a.S3, cfg.S3.Bucket, cfg.S3.Prefix, cfg.Pipeline.MaxFileBytes())
	}

	orch := importer.New(a.Store, advisor, Options(cfg))
	// Advisory locks need postgres; the warehouse connection cannot hold them.
	var lockDB *sql.DB
	if cfg.Storage.Type == "postgres" {
		lockDB = a.DB
	}
	a.Service = importer.NewService(orch, sessions, distlock.NewFactory(a.Redis, lockDB, lockTTL), cfg.Redis.SessionTTL())

	logger.Info("import service ready",
		"advisor", advisor.Name(),
		"workers", cfg.Pipeline.Workers,
		"redis", a.Redis != nil,
		"s3_bucket", cfg.S3.Bucket)
	return a, nil
}

// Options maps the pipeline and advisory sections to orchestrator options.
func Options(cfg *config.Config) importer.Options {
	pipeline := datanorm.DefaultOptions()
	pipeline.ConfidenceFloor = cfg.Pipeline.ConfidenceFloor
	pipeline.GapThresholdDays = cfg.Pipeline.GapThresholdDays
	return importer.Options{
		Workers:         cfg.Pipeline.Workers,
		ConfidenceFloor: cfg.Pipeline.ConfidenceFloor,
		Pipeline:        pipeline,
		AdvisoryTimeout: cfg.Advisory.Timeout(),
	}
}

// Close releases the connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
}
