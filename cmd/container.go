// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis) and wires the job
// subsystem. This is the only place that knows about all modules.
package main

import (
	"context"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/iofold/iofold-sub002/pkg/config"
	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/jobs/jobshttp"
	"github.com/iofold/iofold-sub002/pkg/jobs/jobsinfra"
	"github.com/iofold/iofold-sub002/pkg/jobs/jobsredis"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

// Container holds shared infrastructure and the composed job module.
type Container struct {
	Config *config.Config

	// Infrastructure (shared across all modules)
	DB    *sqlx.DB
	Redis *redis.Client

	// Job subsystem
	JobStore *jobsinfra.PostgresStore

	// JobRegistry starts empty; the embedding application registers its
	// handlers here before submitting jobs. Submit rejects unknown types.
	JobRegistry *jobs.Registry
	JobService  *jobs.Service
	JobWorker   *jobs.Worker
	JobHandlers *jobshttp.Handlers
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initJobs()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure — DB, Redis
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Database
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db

	if err := jobsinfra.Migrate(context.Background(), db); err != nil {
		logx.Fatalf("Failed to apply migrations: %v", err)
	}
	logx.Info("  ✅ Database connected")

	// 2. Redis (optional; without it the job service runs synchronously)
	if c.Config.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
			logx.Fatalf("Failed to connect to Redis: %v", err)
		}
		logx.Info("  ✅ Redis connected")
	} else {
		logx.Warn("  ⚠️ Redis disabled, jobs will execute synchronously in-process")
	}

	logx.Info("✅ Infrastructure initialized")
}

// ---------------------------------------------------------------------------
// Job subsystem composition
// ---------------------------------------------------------------------------

func (c *Container) initJobs() {
	logx.Info("📦 Initializing job subsystem...")

	jobsCfg := c.Config.Jobs

	c.JobStore = jobsinfra.NewPostgresStore(c.DB)
	c.JobRegistry = jobs.NewRegistry()

	options := []jobs.ServiceOption{
		jobs.WithDefaultMaxRetries(jobsCfg.DefaultMaxRetries),
		jobs.WithProgressInterval(jobsCfg.ProgressFlushInterval),
		jobs.WithCancelPoll(jobsCfg.CancelPollInterval),
		jobs.WithAutoRetry(jobsCfg.AutoRetry),
	}

	var queue *jobsredis.Queue
	if c.Redis != nil {
		queue = jobsredis.NewQueue(c.Redis)
		options = append(options, jobs.WithTransport(queue))
	}

	c.JobService = jobs.NewService(c.JobStore, c.JobStore, c.JobRegistry, options...)

	if queue != nil {
		c.JobWorker = jobs.NewWorker(queue, c.JobService.Executor(),
			jobs.WithConcurrency(jobsCfg.Concurrency),
			jobs.WithDequeueTimeout(jobsCfg.DequeueTimeout),
			jobs.WithShutdownTimeout(jobsCfg.ShutdownTimeout),
		)
	}

	c.JobHandlers = jobshttp.NewHandlers(c.JobService, jobshttp.StreamConfig{
		PollInterval: jobsCfg.StreamPollInterval,
		MaxLifetime:  jobsCfg.StreamMaxLifetime,
	})

	logx.Info("✅ Job subsystem initialized")
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (c *Container) StartBackgroundServices(ctx context.Context) {
	if c.JobWorker == nil {
		return
	}

	logx.Info("🔄 Starting job worker...")
	go func() {
		if err := c.JobWorker.Start(ctx); err != nil {
			logx.Errorf("Job worker stopped: %v", err)
		}
	}()
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
