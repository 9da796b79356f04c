// Command toolrund runs the job executor worker pool: it wires the
// Catalog, Run, and File stores (in-memory or MongoDB depending on
// configuration), the durable Job Queue, the Event Bus, and the Run
// Supervisor, reconciles durable state at startup via Recovery, then
// serves RUN and SANDBOX_OP jobs until terminated.
//
// # Configuration
//
// Environment variables (see internal/config):
//
//	TOOLRUN_MONGO_URI            - MongoDB connection string (default: in-memory stores)
//	TOOLRUN_MONGO_DB             - MongoDB database name (default: "toolrun")
//	TOOLRUN_REDIS_ADDR           - Redis address for the Event Bus (default: in-memory bus)
//	TOOLRUN_WORKDIR_ROOT         - per-run working directory root (default: /tmp/toolrun/runs)
//	TOOLRUN_BLOB_ROOT            - content-addressed file area root (default: /tmp/toolrun/blobs)
//	TOOLRUN_SANDBOX_ROOT         - per-tool sandbox root (default: /tmp/toolrun/sandboxes)
//	TOOLRUN_WORKER_COUNT         - concurrent run slots (default: 4)
//	TOOLRUN_CANCEL_POLL_INTERVAL - cancellation poll cadence (default: 1s)
//	TOOLRUN_CANCEL_GRACE_PERIOD  - SIGTERM-to-SIGKILL grace period (default: 3s)
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/toolrun/internal/blobstore"
	"goa.design/toolrun/internal/catalog"
	catalogmem "goa.design/toolrun/internal/catalog/memory"
	catalogmongo "goa.design/toolrun/internal/catalog/mongo"
	"goa.design/toolrun/internal/config"
	"goa.design/toolrun/internal/eventbus"
	eventbusinmem "goa.design/toolrun/internal/eventbus/inmem"
	eventbuspulse "goa.design/toolrun/internal/eventbus/pulse"
	"goa.design/toolrun/internal/filestore"
	filestoremem "goa.design/toolrun/internal/filestore/memory"
	filestoremongo "goa.design/toolrun/internal/filestore/mongo"
	"goa.design/toolrun/internal/queue"
	"goa.design/toolrun/internal/queue/memoryqueue"
	"goa.design/toolrun/internal/queue/mongoqueue"
	"goa.design/toolrun/internal/recovery"
	"goa.design/toolrun/internal/runstore"
	runstoremem "goa.design/toolrun/internal/runstore/memory"
	runstoremongo "goa.design/toolrun/internal/runstore/mongo"
	"goa.design/toolrun/internal/sandbox"
	"goa.design/toolrun/internal/supervisor"
	"goa.design/toolrun/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOtelMetrics("toolrun")

	tools, runs, files, mongoClient, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	if mongoClient != nil {
		defer mongoClient.Disconnect(context.Background())
	}

	jobQueue, err := buildQueue(ctx, cfg, mongoClient)
	if err != nil {
		return fmt.Errorf("build queue: %w", err)
	}
	defer jobQueue.Close()

	bus, err := buildEventBus(cfg)
	if err != nil {
		return fmt.Errorf("build event bus: %w", err)
	}
	defer bus.Close(context.Background())

	sandboxMgr := &sandbox.Manager{Tools: tools, Logger: logger, Root: cfg.SandboxRoot}

	sup := supervisor.New(supervisor.Options{
		Tools:              tools,
		Runs:               runs,
		Files:              files,
		Blobs:              blobstore.New(cfg.BlobRoot),
		Queue:              jobQueue,
		Bus:                bus,
		Sandbox:            sandboxMgr,
		Logger:             logger,
		Metrics:            metrics,
		WorkDirRoot:        cfg.WorkDirRoot,
		WorkerCount:        cfg.WorkerCount,
		CancelPollInterval: cfg.CancelPollInterval,
		CancelGracePeriod:  cfg.CancelGracePeriod,
	})

	rec := &recovery.Recoverer{Runs: runs, Queue: jobQueue, Bus: bus, Logger: logger}
	if err := rec.Run(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	log.Printf("toolrund starting: %d worker(s), workdir=%s", cfg.WorkerCount, cfg.WorkDirRoot)
	return sup.Run(ctx)
}

func buildStores(ctx context.Context, cfg config.Config) (catalog.Store, runstore.Store, filestore.Store, *mongo.Client, error) {
	if cfg.MongoURI == "" {
		return catalogmem.New(), runstoremem.New(), filestoremem.New(), nil, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	db := client.Database(cfg.MongoDatabase)

	toolsStore := catalogmongo.New(db.Collection("tools"))
	runsStore := runstoremongo.New(db.Collection("runs"))
	filesStore := filestoremongo.New(db.Collection("files"))

	if err := toolsStore.EnsureIndexes(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ensure tool indexes: %w", err)
	}
	if err := runsStore.EnsureIndexes(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ensure run indexes: %w", err)
	}

	return toolsStore, runsStore, filesStore, client, nil
}

func buildQueue(ctx context.Context, cfg config.Config, mongoClient *mongo.Client) (queue.Queue, error) {
	if mongoClient == nil {
		return memoryqueue.New(256), nil
	}
	workerID := uuid.NewString()
	q := mongoqueue.New(mongoClient.Database(cfg.MongoDatabase).Collection("job_queue"), workerID)
	if err := q.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure queue indexes: %w", err)
	}
	return q, nil
}

func buildEventBus(cfg config.Config) (eventbus.Bus, error) {
	if cfg.RedisAddr == "" {
		return eventbusinmem.New(0), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return eventbuspulse.New(eventbuspulse.Options{Redis: rdb})
}
